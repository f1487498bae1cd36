package main

import (
	"flag"
	"fmt"
	"os"

	"meld_bot/internal/bootstrap"
)

// Version information (set via build flags)
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the app configuration file")
	profilesPath := flag.String("profiles", "configs/profiles.yaml", "Path to the bot profiles file")
	botID := flag.String("bot", "", "Bot id to run; empty runs every profile")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("meld_bot version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Env vars override flags for container deployments.
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		*configPath = env
	}
	if env := os.Getenv("PROFILES_FILE"); env != "" {
		*profilesPath = env
	}
	if env := os.Getenv("BOT_ID"); env != "" {
		*botID = env
	}

	app, err := bootstrap.NewApp(bootstrap.Options{
		ConfigPath:   *configPath,
		ProfilesPath: *profilesPath,
		BotID:        *botID,
		LogLevel:     *logLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	app.Logger().Info("starting meld_bot",
		"version", version,
		"build_time", buildTime,
		"bot", *botID)

	if err := app.Run(); err != nil {
		app.Logger().Error("run failed", "error", err)
		os.Exit(1)
	}
}
