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
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestDefaults(t *testing.T) {
	c, err := Load("", noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, DriverSQLite, c.Store.Driver)
	assert.Equal(t, 30*time.Second, c.Sync.Interval)
	assert.Equal(t, time.Second, c.Sync.BackoffInitial)
	assert.Equal(t, 2*time.Minute, c.Sync.BackoffMax)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "fieldsync.yaml", `
api:
  base_url: https://api.example.com/v1
  timeout: 10s
  gzip: true
store:
  driver: redis
  dsn: redis://localhost:6379/2
sync:
  interval: 1m
  backoff_initial: 2s
  backoff_max: 30s
connectivity:
  probe_url: https://api.example.com/health
  probe_interval: 20s
reporter:
  endpoint: https://errors.example.com/report
log:
  level: debug
  format: json
metrics:
  addr: ":9090"
`)
	c, err := Load(path, noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", c.API.BaseURL)
	assert.Equal(t, 10*time.Second, c.API.Timeout)
	assert.True(t, c.API.Gzip)
	assert.Equal(t, DriverRedis, c.Store.Driver)
	assert.Equal(t, "queue", c.Store.Key, "unset keys keep defaults")
	assert.Equal(t, time.Minute, c.Sync.Interval)
	assert.Equal(t, 30*time.Second, c.Sync.BackoffMax)
	assert.Equal(t, 20*time.Second, c.Connectivity.ProbeInterval)
	assert.Equal(t, "https://errors.example.com/report", c.Reporter.Endpoint)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, ":9090", c.Metrics.Addr)
}

func TestEnvOverridesFileAndDotEnv(t *testing.T) {
	path := writeFile(t, "fieldsync.yaml", "store:\n  driver: file\n  dsn: /var/lib/fieldsync\n")
	envFile := writeFile(t, ".env", "FIELDSYNC_AUTH_TOKEN=from-dotenv\nFIELDSYNC_SYNC_INTERVAL=45s\n")
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "5s")
	t.Setenv("FIELDSYNC_STORE_DRIVER", "memory")
	t.Setenv("FIELDSYNC_API_GZIP", "true")
	t.Cleanup(func() { _ = os.Unsetenv("FIELDSYNC_AUTH_TOKEN") })

	c, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, c.Store.Driver)
	assert.Equal(t, 5*time.Second, c.Sync.Interval, "process env wins over .env")
	assert.Equal(t, "from-dotenv", c.Auth.Token)
	assert.True(t, c.API.Gzip)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), noEnvFile(t))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "api: [unterminated"), noEnvFile(t))
	assert.Error(t, err)

	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "soon")
	_, err = Load("", noEnvFile(t))
	assert.ErrorContains(t, err, "FIELDSYNC_SYNC_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, "absolute URL"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"missing dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"missing key", func(c *Config) { c.Store.Key = "" }, "store.key"},
		{"inverted backoff", func(c *Config) { c.Sync.BackoffInitial = time.Hour }, "backoff_initial"},
		{"probe without interval", func(c *Config) {
			c.Connectivity.ProbeURL = "http://x/health"
			c.Connectivity.ProbeInterval = 0
		}, "probe_interval"},
		{"two token sources", func(c *Config) { c.Auth.Token = "a"; c.Auth.TokenFile = "/t" }, "mutually exclusive"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	c := Default()
	c.Store = Store{Driver: DriverMemory, Key: "queue"}
	assert.NoError(t, c.Validate(), "memory needs no dsn")
}
