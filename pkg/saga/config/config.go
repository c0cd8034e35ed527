// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package config loads engine configuration from file and environment via
// viper. Settings resolve in the usual order: explicit file, then
// SAGA_-prefixed environment variables, then defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/innovationmech/sagakit/pkg/saga"
	"github.com/innovationmech/sagakit/pkg/saga/recovery"
	"github.com/innovationmech/sagakit/pkg/saga/storage"
)

// Storage driver names accepted by StorageConfig.Driver.
const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Config is the top-level engine configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// StorageConfig selects and parameterizes the saga store.
type StorageConfig struct {
	// Driver is one of "memory", "mysql", "redis".
	Driver string `mapstructure:"driver"`

	// DSN is the MySQL data source name, used when Driver is "mysql".
	DSN string `mapstructure:"dsn"`

	// RedisURL is a redis:// URL, used when Driver is "redis".
	RedisURL string `mapstructure:"redis_url"`

	// AutoMigrate runs schema migration at startup for the mysql driver.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RecoveryConfig mirrors recovery.Config in file/env form.
type RecoveryConfig struct {
	// Enabled turns the background sweeper on.
	Enabled bool `mapstructure:"enabled"`

	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Interval     time.Duration `mapstructure:"interval"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Development switches to the human-readable console encoder.
	Development bool `mapstructure:"development"`
}

// NATSConfig configures the optional NATS event publisher.
type NATSConfig struct {
	// Enabled turns event publishing on.
	Enabled bool `mapstructure:"enabled"`

	// URL is the NATS server URL.
	URL string `mapstructure:"url"`

	// SubjectPrefix overrides the default saga.events prefix.
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Default returns the built-in defaults: in-memory storage, single-pass
// recovery, info-level logging, no event publishing.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:      DriverMemory,
			AutoMigrate: true,
		},
		Recovery: RecoveryConfig{
			Enabled:      true,
			StartupDelay: recovery.DefaultStartupDelay,
			Interval:     0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
	}
}

// Load reads configuration from the given file path (optional) and the
// environment, over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults double as key registrations: AutomaticEnv only surfaces keys
	// viper already knows about.
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_url", "")
	v.SetDefault("storage.auto_migrate", true)
	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.startup_delay", recovery.DefaultStartupDelay)
	v.SetDefault("recovery.interval", time.Duration(0))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "")

	v.SetEnvPrefix("SAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, saga.NewConfigurationError(fmt.Sprintf("failed to read config file %s: %v", path, err))
		}
	} else {
		v.SetConfigName("sagakit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, saga.NewConfigurationError(fmt.Sprintf("failed to read config: %v", err))
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, saga.NewConfigurationError(fmt.Sprintf("failed to unmarshal config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for coherent settings.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Storage.DSN == "" {
			return saga.NewConfigurationError("storage.dsn is required for the mysql driver")
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			return saga.NewConfigurationError("storage.redis_url is required for the redis driver")
		}
	default:
		return saga.NewConfigurationError(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Recovery.StartupDelay < 0 || c.Recovery.Interval < 0 {
		return saga.NewConfigurationError("recovery durations must be >= 0")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return saga.NewConfigurationError("nats.url is required when nats is enabled")
	}
	return nil
}

// BuildStore constructs the saga store selected by the configuration.
func (c *Config) BuildStore() (saga.Store, error) {
	switch c.Storage.Driver {
	case DriverMemory:
		return storage.NewMemoryStore(), nil
	case DriverMySQL:
		return storage.NewMySQLStore(c.Storage.DSN)
	case DriverRedis:
		return storage.NewRedisStoreFromURL(c.Storage.RedisURL)
	default:
		return nil, saga.NewConfigurationError(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}
}

// SweeperConfig converts the file/env form into the sweeper's config.
func (c *Config) SweeperConfig() *recovery.Config {
	rc := recovery.DefaultConfig()
	rc.StartupDelay = c.Recovery.StartupDelay
	rc.Interval = c.Recovery.Interval
	return rc
}
