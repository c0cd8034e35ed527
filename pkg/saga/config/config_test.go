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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovationmech/sagakit/pkg/saga/storage"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sagakit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Recovery.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Recovery.StartupDelay)
	assert.Zero(t, cfg.Recovery.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  driver: mysql
  dsn: "user:pass@tcp(127.0.0.1:3306)/sagas?parseTime=true"
recovery:
  interval: 30s
  startup_delay: 2s
logging:
  level: debug
  development: true
nats:
  enabled: true
  url: nats://broker:4222
  subject_prefix: orders.events
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMySQL, cfg.Storage.Driver)
	assert.Contains(t, cfg.Storage.DSN, "parseTime=true")
	assert.Equal(t, 30*time.Second, cfg.Recovery.Interval)
	assert.Equal(t, 2*time.Second, cfg.Recovery.StartupDelay)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "orders.events", cfg.NATS.SubjectPrefix)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SAGA_STORAGE_DRIVER", "redis")
	t.Setenv("SAGA_STORAGE_REDIS_URL", "redis://127.0.0.1:6379/0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "redis://127.0.0.1:6379/0", cfg.Storage.RedisURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"mysql without dsn", func(c *Config) { c.Storage.Driver = DriverMySQL }, true},
		{"redis without url", func(c *Config) { c.Storage.Driver = DriverRedis }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "cassandra" }, true},
		{"negative recovery interval", func(c *Config) { c.Recovery.Interval = -1 }, true},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildStoreMemory(t *testing.T) {
	cfg := Default()
	store, err := cfg.BuildStore()
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)
}

func TestSweeperConfig(t *testing.T) {
	cfg := Default()
	cfg.Recovery.StartupDelay = time.Second
	cfg.Recovery.Interval = time.Minute

	rc := cfg.SweeperConfig()
	assert.Equal(t, time.Second, rc.StartupDelay)
	assert.Equal(t, time.Minute, rc.Interval)
	assert.NotEmpty(t, rc.Statuses)
}
