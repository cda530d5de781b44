// Package gatewayconfig holds the process-level configuration of the
// gateway itself — server port, configuration-source selector, watched
// directories, cache/reload tuning — as distinct from the dynamic
// database/query/endpoint definitions the gateway serves (those live in
// internal/model and are owned by internal/configsource). Values bind
// from the YAML file given to Load and from CORDAL_-prefixed environment
// variables via viper; no CLI flag is bound into them.
package gatewayconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration, bound from the YAML file
// given to Load and from CORDAL_-prefixed environment variables.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	ConfigSource ConfigSourceConfig `mapstructure:"config_source"`
	Watcher      WatcherConfig      `mapstructure:"watcher"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Reload       ReloadConfig       `mapstructure:"reload"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// ConfigSourceConfig selects file-source vs store-source
// and, when store-source is selected, whether to seed the store from
// file-source definitions on first startup.
type ConfigSourceConfig struct {
	Selector        string   `mapstructure:"selector"` // "file" | "store"
	Directories     []string `mapstructure:"directories"`
	StoreDriver     string   `mapstructure:"store_driver"`
	StoreDSN        string   `mapstructure:"store_dsn"`
	ImportOnEmpty   bool     `mapstructure:"import_on_empty"`
}

// WatcherConfig tunes the file watcher's debounce window and globs.
type WatcherConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Debounce      time.Duration `mapstructure:"debounce"`
	DatabaseGlobs []string      `mapstructure:"database_globs"`
	QueryGlobs    []string      `mapstructure:"query_globs"`
	EndpointGlobs []string      `mapstructure:"endpoint_globs"`
}

// CacheConfig holds cache-layer defaults applied to every named cache
// unless an endpoint's own spec overrides them.
type CacheConfig struct {
	DefaultMaxEntries int           `mapstructure:"default_max_entries"`
	DefaultTTL        time.Duration `mapstructure:"default_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

// ReloadConfig tunes the reload orchestrator's retry and history bounds.
type ReloadConfig struct {
	MaxAttempts   int `mapstructure:"max_attempts"`
	HistoryLimit  int `mapstructure:"history_limit"`
}

// MetricsConfig controls the Prometheus collector registration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LogConfig controls slog's level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads gateway configuration from configPath (if non-empty) and
// CORDAL_-prefixed environment variables, applying defaults first so a
// bare environment still produces a valid Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CORDAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("gatewayconfig: reading %q: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("gatewayconfig: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.graceful_shutdown_timeout", "30s")

	v.SetDefault("config_source.selector", "file")
	v.SetDefault("config_source.directories", []string{"./config"})
	v.SetDefault("config_source.store_driver", "sqlite")
	v.SetDefault("config_source.store_dsn", "./cordal-store.db")
	v.SetDefault("config_source.import_on_empty", false)

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.debounce", "300ms")

	v.SetDefault("cache.default_max_entries", 1000)
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.sweep_interval", "1m")

	v.SetDefault("reload.max_attempts", 3)
	v.SetDefault("reload.history_limit", 20)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the config-source selector and server port are sane.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("gatewayconfig: invalid server port %d", c.Server.Port)
	}
	switch c.ConfigSource.Selector {
	case "file":
		if len(c.ConfigSource.Directories) == 0 {
			return fmt.Errorf("gatewayconfig: config_source.selector=file requires at least one directory")
		}
	case "store":
		if c.ConfigSource.StoreDSN == "" {
			return fmt.Errorf("gatewayconfig: config_source.selector=store requires store_dsn")
		}
	default:
		return fmt.Errorf("gatewayconfig: invalid config_source.selector %q (must be \"file\" or \"store\")", c.ConfigSource.Selector)
	}
	return nil
}

// IsStoreSource reports whether the configuration-store loader should be
// used instead of the file-source loader.
func (c *Config) IsStoreSource() bool {
	return c.ConfigSource.Selector == "store"
}
