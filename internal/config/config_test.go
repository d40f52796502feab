package config

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/emb3d-mapper/internal/pipelineerr"
)

func resetSingleton() {
	instance = nil
	once = sync.Once{}
	loadErr = nil
}

// validConfig returns a configuration built purely from defaults.
func validConfig(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

// TestGetUninitialized verifies that calling Get() before Load() causes a panic.
func TestGetUninitialized(t *testing.T) {
	resetSingleton()

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

// TestLoadAndGet verifies the basic singleton load and get functionality.
func TestLoadAndGet(t *testing.T) {
	resetSingleton()

	yamlConfig := []byte(`
source:
  mode: bundle
  dir: ./data
fetcher:
  workers: 4
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	require.NoError(t, Load(v))

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, ModeBundle, cfg.Source.Mode)
	assert.Equal(t, "./data", cfg.Source.Dir)
	assert.Equal(t, 4, cfg.Fetcher.Workers)
	assert.Equal(t, DefaultMaxAttempts, cfg.Fetcher.MaxAttempts, "unset keys keep their defaults")

	// Subsequent calls to Load do not change the instance.
	v2 := viper.New()
	v2.SetConfigType("yaml")
	_ = v2.ReadConfig(bytes.NewBuffer([]byte(`fetcher: {workers: 99}`)))
	require.NoError(t, Load(v2))

	cfg2 := Get()
	assert.Same(t, cfg, cfg2, "Get() should return the same instance")
	assert.Equal(t, 4, cfg2.Fetcher.Workers, "Configuration should not be reloaded")
}

func TestDefaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, ModeJSON, cfg.Source.Mode)
	assert.Equal(t, DefaultRawBase+"/"+DefaultMappingPath, cfg.Source.Location)
	assert.Equal(t, DefaultOutputPath, cfg.Output.Path)
	assert.Equal(t, FormatCSV, cfg.Output.Format)
	assert.Equal(t, DefaultWorkers, cfg.Fetcher.Workers)
	assert.Equal(t, DefaultInitialBackoff, cfg.Fetcher.InitialBackoff)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.True(t, cfg.Fetcher.Enabled)
	assert.NoError(t, cfg.Validate())
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		errField string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "unknown mode", mutate: func(c *Config) { c.Source.Mode = "xml" }, errField: "source.mode"},
		{name: "no location", mutate: func(c *Config) { c.Source.Location = ""; c.Source.Dir = "" }, errField: "source.location"},
		{name: "directory instead of location", mutate: func(c *Config) { c.Source.Location = ""; c.Source.Dir = "data" }},
		{name: "unsupported format", mutate: func(c *Config) { c.Output.Format = "ods" }, errField: "output.format"},
		{name: "xlsx format in upper case", mutate: func(c *Config) { c.Output.Format = "XLSX" }},
		{name: "empty output path", mutate: func(c *Config) { c.Output.Path = "" }, errField: "output.path"},
		{name: "zero workers", mutate: func(c *Config) { c.Fetcher.Workers = 0 }, errField: "fetcher.workers"},
		{name: "zero attempts", mutate: func(c *Config) { c.Fetcher.MaxAttempts = 0 }, errField: "fetcher.max_attempts"},
		{name: "zero workers ignored when enrichment is disabled", mutate: func(c *Config) {
			c.Fetcher.Enabled = false
			c.Fetcher.Workers = 0
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errField == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *pipelineerr.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.errField, cfgErr.Field)
			assert.True(t, pipelineerr.IsFatal(err))
		})
	}
}

// TestConfigStructureMapping verifies that the YAML tags correctly map to the struct fields.
func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  format: json
  log_file: /var/log/emb3d.log
network:
  timeout: 5s
  headers:
    Accept: text/html
fetcher:
  initial_backoff: 250ms
  max_backoff: 4s
  base_url: http://mirror.local/emb3d
output:
  path: out.json
  format: json
cache:
  path: /tmp/emb3d.db
  ttl: 1h
postgres:
  url: postgres://u:p@localhost/emb3d
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/emb3d.log", cfg.Logger.LogFile)
	assert.Equal(t, 5*time.Second, cfg.Network.Timeout)
	assert.Equal(t, "text/html", cfg.Network.Headers["accept"], "viper lower-cases map keys")
	assert.Equal(t, 250*time.Millisecond, cfg.Fetcher.InitialBackoff)
	assert.Equal(t, 4*time.Second, cfg.Fetcher.MaxBackoff)
	assert.Equal(t, "http://mirror.local/emb3d", cfg.Fetcher.BaseURL)
	assert.Equal(t, "out.json", cfg.Output.Path)
	assert.Equal(t, "/tmp/emb3d.db", cfg.Cache.Path)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "postgres://u:p@localhost/emb3d", cfg.Postgres.URL)
}

// TestSet ensures that the Set function correctly sets the global instance.
func TestSet(t *testing.T) {
	resetSingleton()

	expectedCfg := &Config{Output: OutputConfig{Path: "set-from-test.csv"}}
	Set(expectedCfg)

	actualCfg := Get()
	assert.Same(t, expectedCfg, actualCfg, "Get should return the exact instance that was Set")
	assert.Equal(t, "set-from-test.csv", actualCfg.Output.Path)
}
