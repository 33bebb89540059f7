package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, time.Duration(0), cfg.Cache.ObjectTTL)
	assert.Equal(t, int64(1000), cfg.Points.MinWithdrawal)
	assert.Equal(t, int64(100), cfg.Points.PointsPerCurrencyUnit)
	assert.Equal(t, 10*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 20, cfg.Lock.MaxRetries)
	assert.Equal(t, int64(16*1024*1024), cfg.Storage.MaxImageSize)

	rate, err := cfg.Points.Rate()
	require.NoError(t, err)
	assert.Equal(t, "0.01", rate.String())
}

func TestLoad_FileAndEnv(t *testing.T) {
	cfg, err := loadFromDir(t, `
database:
  driver: memory
points:
  min_withdrawal: 500
logging:
  level: debug
`)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, int64(500), cfg.Points.MinWithdrawal)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Setenv("ARTSHARE_POINTS_MIN_WITHDRAWAL", "250")
	cfg, err = loadFromDir(t, "database:\n  driver: memory\n")
	require.NoError(t, err)
	assert.Equal(t, int64(250), cfg.Points.MinWithdrawal)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := loadFromDir(t, "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }},
		{"redis cache without redis", func(c *Config) { c.Cache.Backend = "redis"; c.Redis.Enabled = false }},
		{"negative ttl", func(c *Config) { c.Cache.ObjectTTL = -time.Second }},
		{"bad lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }},
		{"bad rate", func(c *Config) { c.Points.CurrencyRate = "abc" }},
		{"zero rate", func(c *Config) { c.Points.CurrencyRate = "0" }},
		{"zero points per unit", func(c *Config) { c.Points.PointsPerCurrencyUnit = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

// loadFromDir writes body (if any) to a config.yaml and loads it.
func loadFromDir(t *testing.T, body string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if body == "" {
		body = "{}\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return Load(path)
}
