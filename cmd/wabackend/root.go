package main

import (
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-wa-backend/internal/config"
	"github.com/tbourn/go-wa-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "wabackend",
	Short:        "WhatsApp chat backend and scheduled job runner",
	Version:      version,
	SilenceUsage: true,
}

var (
	flagDBPath string
	flagPort   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagPort, "port", "", "HTTP listen port (overrides PORT)")
}

// loadConfig reads .env if present, loads the environment configuration,
// applies flag overrides and configures global logging and gin mode.
func loadConfig() (config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	cfg.DBPath = sysutil.FirstNonEmpty(flagDBPath, cfg.DBPath)
	cfg.Port = sysutil.FirstNonEmpty(flagPort, cfg.Port)

	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)
	return cfg, nil
}

// setupLogging applies the configured zerolog level and output format.
// DEBUG=1 in the environment forces verbose pretty logs regardless of config,
// which is handy when poking at a deployed instance.
func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339

	debug := sysutil.IsTruthy(os.Getenv("DEBUG"))
	name := cfg.LogLevel
	if debug {
		name = "debug"
	}
	lvl := sysutil.SetLogLevel(name)
	if cfg.LogPretty || debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Debug().Stringer("level", lvl).Msg("logging configured")
}
