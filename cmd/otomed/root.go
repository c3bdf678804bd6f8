package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/otomed/otomed3/internal/config"
)

const envPrefix = "OTOMED"

// cfgPath is the resolved --config value, set before any command runs.
var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "otomed",
	Short:         "OtoMed AI, a Mastodon mention-response bot",
	SilenceUsage:  true,
	Version:       version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfgPath = viper.GetString("config")
		if cfgPath == "" {
			cfgPath = defaultConfigPath()
		}
		return config.LoadDotEnv(viper.GetString("env_file"))
	},
}

func init() {
	cobra.OnInitialize(initViper)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file path (default ~/.otomed/config.json)")
	flags.String("env-file", ".env", "dotenv file loaded before the config")
	flags.String("log-level", "", "override log level (debug, info, warn, error)")
	flags.String("log-format", "", "override log format (text, json)")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("env_file", flags.Lookup("env-file"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
}

func initViper() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func defaultConfigPath() string {
	return filepath.Join(os.Getenv("HOME"), ".otomed", "config.json")
}

// loadConfig reads the config file and applies flag/env overrides for logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString("log_format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

// setupLogging installs the process-wide slog handler.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}
	return slog.New(h), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}
