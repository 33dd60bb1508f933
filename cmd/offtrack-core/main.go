package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/offtrack/offtrack-core/internal/api"
	"github.com/offtrack/offtrack-core/internal/config"
	"github.com/offtrack/offtrack-core/internal/monitoring"
	"github.com/offtrack/offtrack-core/internal/security"
	"github.com/offtrack/offtrack-core/internal/storage"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "offtrack-core",
	Short:         "Offline cache and local streaming proxy for a Subsonic music server",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		fmt.Sprintf("config file (default %s)", config.GetConfigPath()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := prepare(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// prepare validates cfg and decrypts its sealed password
func prepare(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	password, err := security.NewSealer(config.GetDataDir()).Open(cfg.Server.Password)
	if err != nil {
		return fmt.Errorf("failed to read server password: %w", err)
	}
	cfg.Server.Password = password
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return monitoring.NewLogger(logConfig(cfg))
}

// logConfig overlays the configured logging settings on the defaults. An
// empty file path keeps the default log file.
func logConfig(cfg *config.Config) *monitoring.LogConfig {
	lc := monitoring.DefaultLogConfig(config.GetDataDir())
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	lc.Output = cfg.Logging.Output
	if cfg.Logging.FilePath != "" {
		lc.FilePath = cfg.Logging.FilePath
	}
	lc.MaxSizeMB = cfg.Logging.MaxSizeMB
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAgeDays = cfg.Logging.MaxAgeDays
	lc.Compress = cfg.Logging.Compress
	return lc
}

func apiOptions(cfg *config.Config) api.Options {
	return api.Options{
		Timeout:    time.Duration(cfg.Network.Timeout) * time.Second,
		ClientName: "offtrack-core/" + version,
	}
}

func newLayout(cfg *config.Config) storage.Layout {
	return storage.NewLayout(filepath.Clean(cfg.Cache.Dir))
}

func megabytes(n int64) int64 {
	return n * 1024 * 1024
}
