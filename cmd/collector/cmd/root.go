package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/spf13/cobra"

	"github.com/SebastienMelki/pixel/internal/collector"
	"github.com/SebastienMelki/pixel/internal/export"
)

// envPrefix namespaces every collector variable.
const envPrefix = "COLLECTOR_"

// Config holds all collector command configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Collector HTTP and storage configuration
	Collector collector.Config

	// Parquet export configuration
	Export export.Config
}

var (
	logLevel  string
	logFormat string
	dbPath    string
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Pixel collector - receive, deduplicate and export telemetry batches",
	Long: `collector is the server side of the pixel. It accepts event batches on
POST /collect, drops events it has already stored, keeps the rest in SQLite
and exports them to Parquet for offline analysis.

Configuration is read from COLLECTOR_* environment variables; flags override
them.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path")
}

// loadConfig reads the environment and applies flags that were set.
func loadConfig(cmd *cobra.Command) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if flags.Changed("db") {
		cfg.Collector.DBPath = dbPath
	}

	return cfg, nil
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
