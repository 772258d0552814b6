// Package config loads tally configuration from file, environment, and
// defaults via viper.
//
// Lookup order: explicit --config path, then $TALLY_DIR/config.yaml, then
// ~/.tally/config.yaml. Every key can be overridden with a TALLY_-prefixed
// environment variable (dots become underscores, e.g. TALLY_REMOTE_BASE_URL).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir holds the local database and daemon logs.
	DataDir string `mapstructure:"data_dir"`

	// OwnerID identifies whose habits this installation tracks.
	OwnerID string `mapstructure:"owner_id"`

	Remote struct {
		BaseURL    string        `mapstructure:"base_url"`
		HealthPath string        `mapstructure:"health_path"`
		Timeout    time.Duration `mapstructure:"timeout"`
	} `mapstructure:"remote"`

	Probe struct {
		Interval time.Duration `mapstructure:"interval"`
		Timeout  time.Duration `mapstructure:"timeout"`
		Grace    time.Duration `mapstructure:"grace"`
	} `mapstructure:"probe"`

	Sync struct {
		MaxAttempts  int           `mapstructure:"max_attempts"`
		BackoffBase  time.Duration `mapstructure:"backoff_base"`
		MaxWorkers   int           `mapstructure:"max_workers"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"sync"`

	Daemon struct {
		ListenAddr string `mapstructure:"listen_addr"`
		ImportDir  string `mapstructure:"import_dir"`
	} `mapstructure:"daemon"`
}

// DatabasePath returns the local store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tally.db")
}

// LogPath returns the rotated daemon log location.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "daemon.log")
}

// Load reads configuration. path may be empty to use the default lookup.
func Load(path string) (*Config, error) {
	v := viper.New()

	dataDir := os.Getenv("TALLY_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".tally")
	}

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("owner_id", "local")
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.health_path", "/api/health")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("probe.interval", 30*time.Second)
	v.SetDefault("probe.timeout", 2*time.Second)
	v.SetDefault("probe.grace", 60*time.Second)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.backoff_base", time.Second)
	v.SetDefault("sync.max_workers", 4)
	v.SetDefault("sync.poll_interval", time.Minute)
	v.SetDefault("daemon.listen_addr", "127.0.0.1:7420")
	v.SetDefault("daemon.import_dir", "")

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; defaults and env cover it.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if !os.IsNotExist(err) {
					return nil, fmt.Errorf("failed to read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
