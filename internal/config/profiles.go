package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BotProfile is one bot's launch description, keyed by bot_id in the
// profiles file.
type BotProfile struct {
	StrategyFile  string         `yaml:"strategy_file"`
	ExchangeBases []ExchangeBase `yaml:"exchange_bases"`
}

// ExchangeBase binds one venue with its credentials and pair list
type ExchangeBase struct {
	ExchangeName string        `yaml:"exchange_name"`
	ExchangeType string        `yaml:"exchange_type"`
	Account      AccountConfig `yaml:"account"`
	Pairs        []PairConfig  `yaml:"pairs"`
}

// AccountConfig carries venue credentials
type AccountConfig struct {
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
}

// PairConfig names one market. TradingPair overrides base||quote when the
// venue symbol differs.
type PairConfig struct {
	BaseAsset   string `yaml:"base_asset"`
	QuoteAsset  string `yaml:"quote_asset"`
	TradingPair string `yaml:"trading_pair"`
}

// LoadProfiles reads the bot profiles file with environment expansion
func LoadProfiles(filename string) (map[string]BotProfile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	profiles := make(map[string]BotProfile)
	if err := yaml.Unmarshal([]byte(expanded), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for botID, profile := range profiles {
		if err := validateProfile(botID, profile); err != nil {
			return nil, err
		}
	}

	return profiles, nil
}

func validateProfile(botID string, p BotProfile) error {
	if p.StrategyFile == "" {
		return ValidationError{
			Field:   fmt.Sprintf("%s.strategy_file", botID),
			Message: "strategy file is required",
		}
	}
	if len(p.ExchangeBases) == 0 {
		return ValidationError{
			Field:   fmt.Sprintf("%s.exchange_bases", botID),
			Message: "at least one exchange base is required",
		}
	}
	for i, base := range p.ExchangeBases {
		if base.ExchangeName == "" {
			return ValidationError{
				Field:   fmt.Sprintf("%s.exchange_bases[%d].exchange_name", botID, i),
				Message: "exchange name is required",
			}
		}
		if base.ExchangeType != "" && base.ExchangeType != "spot" {
			return ValidationError{
				Field:   fmt.Sprintf("%s.exchange_bases[%d].exchange_type", botID, i),
				Value:   base.ExchangeType,
				Message: "only spot exchanges are supported",
			}
		}
		if base.Account.APIKey == "" || base.Account.SecretKey == "" {
			return ValidationError{
				Field:   fmt.Sprintf("%s.exchange_bases[%d].account", botID, i),
				Message: "api_key and secret_key are required",
			}
		}
		if len(base.Pairs) == 0 {
			return ValidationError{
				Field:   fmt.Sprintf("%s.exchange_bases[%d].pairs", botID, i),
				Message: "at least one pair is required",
			}
		}
		for j, pair := range base.Pairs {
			if pair.BaseAsset == "" || pair.QuoteAsset == "" {
				return ValidationError{
					Field:   fmt.Sprintf("%s.exchange_bases[%d].pairs[%d]", botID, i, j),
					Message: "base_asset and quote_asset are required",
				}
			}
		}
	}
	return nil
}

// VenueSetting is the per-pair trading granularity and fee schedule from a
// venue settings file.
type VenueSetting struct {
	TickSize          decimal.Decimal `json:"tick_size"`
	QuantityIncrement decimal.Decimal `json:"quantity_increment"`
	TakeRate          decimal.Decimal `json:"take_rate"`
	MakeRate          decimal.Decimal `json:"make_rate"`
}

// LoadVenueSettings reads <dir>/<EXCHANGE>.json, keyed by venue symbol
func LoadVenueSettings(dir, exchangeName string) (map[string]VenueSetting, error) {
	path := filepath.Join(dir, strings.ToUpper(exchangeName)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read venue settings %s: %w", path, err)
	}

	settings := make(map[string]VenueSetting)
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse venue settings %s: %w", path, err)
	}

	for symbol, s := range settings {
		if s.TickSize.IsZero() || s.QuantityIncrement.IsZero() {
			return nil, ValidationError{
				Field:   fmt.Sprintf("%s.%s", exchangeName, symbol),
				Message: "tick_size and quantity_increment must be positive",
			}
		}
	}

	return settings, nil
}
