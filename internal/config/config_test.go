package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "USD", cfg.Billing.Currency)
	assert.Equal(t, int32(2), cfg.Billing.RoundingPlaces)
	assert.Equal(t, time.Hour, cfg.Scheduler.CheckInterval.Duration)
}

func TestLoad_FileFormats(t *testing.T) {
	files := map[string]string{
		"billing.yaml": `
server:
  port: 9090
  read_timeout: 5s
billing:
  currency: EUR
  strict_resolution: true
scheduler:
  enabled: true
  check_interval: 10m
`,
		"billing.toml": `
[server]
port = 9090
read_timeout = "5s"

[billing]
currency = "EUR"
strict_resolution = true

[scheduler]
enabled = true
check_interval = "10m"
`,
		"billing.json": `{
  "server": {"port": 9090, "read_timeout": "5s"},
  "billing": {"currency": "EUR", "strict_resolution": true},
  "scheduler": {"enabled": true, "check_interval": "10m"}
}`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, name, content))
			require.NoError(t, err)

			assert.Equal(t, 9090, cfg.Server.Port)
			assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Duration)
			assert.Equal(t, "EUR", cfg.Billing.Currency)
			assert.True(t, cfg.Billing.StrictResolution)
			assert.Equal(t, 10*time.Minute, cfg.Scheduler.CheckInterval.Duration)

			// Untouched sections keep their defaults
			assert.Equal(t, "./data/billing.db", cfg.Database.Path)
			assert.Equal(t, int32(2), cfg.Billing.RoundingPlaces)
		})
	}
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	_, err := Load(writeFile(t, "billing.ini", "port=1"))
	assert.ErrorContains(t, err, "unsupported config file format")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{"RB_PORT": "7000", "RB_DB": "/tmp/x.db", "RB_LOG_LEVEL": "debug"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)

	env["RB_PORT"] = "eighty"
	assert.Error(t, applyEnv(&cfg, lookup))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Database.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Scheduler.CheckInterval = Duration{}
	assert.Error(t, cfg.Validate())
	cfg.Scheduler.Enabled = false
	assert.NoError(t, cfg.Validate())
}
