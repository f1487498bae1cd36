// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Tunables  TunablesConfig  `yaml:"tunables"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Journal   JournalConfig   `yaml:"journal"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
	SettingsDir  string `yaml:"settings_dir"` // directory of per-venue settings files
}

// TunablesConfig carries the runtime knobs. All durations are in seconds to
// match the operator-facing names.
type TunablesConfig struct {
	TimeOut             int     `yaml:"time_out"`
	TimeOutProcess      int     `yaml:"time_out_process"`
	RetryNum            int     `yaml:"retry_num"`
	MaxNumThreads       int     `yaml:"max_num_threads"`
	LoopInterval        int     `yaml:"loop_interval"`
	DataMaxLength       int     `yaml:"data_max_length"`
	BufferOrderQuantity float64 `yaml:"buffer_order_quantity"`
	ClientOrderPrefix   string  `yaml:"client_order_prefix"`
}

// HTTPTimeout is the per-attempt HTTP timeout
func (t TunablesConfig) HTTPTimeout() time.Duration {
	return time.Duration(t.TimeOut) * time.Second
}

// CallTimeout is the budget for one connector call including retries
func (t TunablesConfig) CallTimeout() time.Duration {
	return time.Duration(t.TimeOutProcess) * time.Second
}

// Interval is the loop interval
func (t TunablesConfig) Interval() time.Duration {
	return time.Duration(t.LoopInterval) * time.Second
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// JournalConfig configures the completed-order journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTunables(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTelemetry(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateJournal(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateTunables() error {
	t := c.Tunables
	switch {
	case t.TimeOut <= 0:
		return ValidationError{Field: "tunables.time_out", Value: t.TimeOut, Message: "must be positive"}
	case t.TimeOutProcess <= 0:
		return ValidationError{Field: "tunables.time_out_process", Value: t.TimeOutProcess, Message: "must be positive"}
	case t.RetryNum < 1:
		return ValidationError{Field: "tunables.retry_num", Value: t.RetryNum, Message: "must be at least 1"}
	case t.MaxNumThreads < 1:
		return ValidationError{Field: "tunables.max_num_threads", Value: t.MaxNumThreads, Message: "must be at least 1"}
	case t.LoopInterval <= 0:
		return ValidationError{Field: "tunables.loop_interval", Value: t.LoopInterval, Message: "must be positive"}
	case t.DataMaxLength < 1:
		return ValidationError{Field: "tunables.data_max_length", Value: t.DataMaxLength, Message: "must be at least 1"}
	case t.BufferOrderQuantity < 1.0:
		return ValidationError{Field: "tunables.buffer_order_quantity", Value: t.BufferOrderQuantity, Message: "must be at least 1.0"}
	case t.ClientOrderPrefix == "":
		return ValidationError{Field: "tunables.client_order_prefix", Value: t.ClientOrderPrefix, Message: "must not be empty"}
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort < 1 || c.Telemetry.MetricsPort > 65535) {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid TCP port when metrics are enabled",
		}
	}
	return nil
}

func (c *Config) validateJournal() error {
	if c.Journal.Enabled && c.Journal.Path == "" {
		return ValidationError{
			Field:   "journal.path",
			Message: "path is required when the journal is enabled",
		}
	}
	return nil
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the documented tunable defaults, also used in tests
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:     "DEBUG",
			CancelOnExit: false,
			SettingsDir:  "settings",
		},
		Tunables: TunablesConfig{
			TimeOut:             5,
			TimeOutProcess:      2,
			RetryNum:            3,
			MaxNumThreads:       8,
			LoopInterval:        2,
			DataMaxLength:       5000,
			BufferOrderQuantity: 1.01,
			ClientOrderPrefix:   "meld_",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "meld_bot_orders.db",
		},
	}
}
