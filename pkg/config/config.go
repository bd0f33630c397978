// Package config defines the engine configuration and scenario parsing.
// The engine configuration is loaded through viper; scenarios are
// YAML/JSON documents validated once at load or submission time.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// StoreConfig selects the job store backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file; ignored for the memory driver.
	Path string `mapstructure:"path"`
}

// EconomicsConfig holds the externally supplied unit costs and plant
// assumptions used to derive economic figures from fuel/CO2 deltas.
type EconomicsConfig struct {
	FuelPricePerMWh       float64 `mapstructure:"fuel_price_per_mwh"`
	OperatingHoursPerYear float64 `mapstructure:"operating_hours_per_year"`
	// RetrofitCost is the investment needed to apply the optimized design;
	// payback period is computed against it.
	RetrofitCost float64 `mapstructure:"retrofit_cost"`
}

// CallbackConfig configures the terminal-status webhook notifier.
type CallbackConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// Config is the daemon configuration.
type Config struct {
	HTTPAddr  string          `mapstructure:"http_addr"`
	LogLevel  string          `mapstructure:"log_level"`
	LogFormat string          `mapstructure:"log_format"`
	// Workers is the number of concurrent optimization slots.
	Workers     int             `mapstructure:"workers"`
	ScenarioDir string          `mapstructure:"scenario_dir"`
	Store       StoreConfig     `mapstructure:"store"`
	Economics   EconomicsConfig `mapstructure:"economics"`
	Callback    CallbackConfig  `mapstructure:"callback"`
}

// Load reads the daemon configuration from an optional file, applying
// defaults and OPTD_-prefixed environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("workers", 2)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("economics.fuel_price_per_mwh", 42.0)
	v.SetDefault("economics.operating_hours_per_year", 8400.0)
	v.SetDefault("economics.retrofit_cost", 0.0)

	v.SetEnvPrefix("OPTD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid store.driver: %s (must be memory or sqlite)", cfg.Store.Driver)
	}

	if cfg.Economics.OperatingHoursPerYear < 0 {
		return fmt.Errorf("economics.operating_hours_per_year cannot be negative")
	}
	if cfg.Economics.FuelPricePerMWh < 0 {
		return fmt.Errorf("economics.fuel_price_per_mwh cannot be negative")
	}

	return nil
}
