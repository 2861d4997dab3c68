package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(env map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1.5, cfg.PruningValue)
	assert.Equal(t, "https://api.opentreeoflife.org", cfg.TNRS.URL)
	assert.Equal(t, 4, cfg.TNRS.MaxConcurrency)
	assert.Equal(t, 3, cfg.TNRS.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.TNRS.RetryWait)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	for _, k := range []string{"PRUNING_VALUE", "MAX_RETRIES", "RETRY_WAIT", "LOG_LEVEL"} {
		t.Setenv(ENV_PREFIX+k, "")
	}

	path := filepath.Join(t.TempDir(), "otu.yaml")
	yml := `
pruning_value: 2
tnrs:
  max_retries: 5
  retry_wait: 500ms
  approximate_matching: true
  context_name: Fungi
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.PruningValue)
	assert.Equal(t, 5, cfg.TNRS.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.TNRS.RetryWait)
	assert.True(t, cfg.TNRS.ApproximateMatching)
	assert.Equal(t, "Fungi", cfg.TNRS.ContextName)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.TNRS.MaxConcurrency)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("pruning_value: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pruning_value: 2\n"), 0o644))

	t.Setenv(ENV_PREFIX+"PRUNING_VALUE", "3.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3.5, cfg.PruningValue)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnvOverrides(mapLookup(map[string]string{
		"OTUDATA_TNRS_URL":             "http://localhost:9000",
		"OTUDATA_MAX_CONCURRENCY":      "8",
		"OTUDATA_MAX_RETRY_WAIT":       "1m",
		"OTUDATA_REQUESTS_PER_SECOND":  "0",
		"OTUDATA_APPROXIMATE_MATCHING": "true",
		"OTUDATA_LEDGER":               "runs.db",
		"OTUDATA_UNRESOLVED_REPORT":    "unresolved.csv",
		"OTUDATA_CONTEXT_NAME":         "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.TNRS.URL)
	assert.Equal(t, 8, cfg.TNRS.MaxConcurrency)
	assert.Equal(t, time.Minute, cfg.TNRS.MaxRetryWait)
	assert.Equal(t, 0.0, cfg.TNRS.RequestsPerSecond)
	assert.True(t, cfg.TNRS.ApproximateMatching)
	assert.Equal(t, "runs.db", cfg.Ledger)
	assert.Equal(t, "unresolved.csv", cfg.UnresolvedReport)
	assert.Equal(t, "", cfg.TNRS.ContextName)
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnvOverrides(mapLookup(map[string]string{
		"OTUDATA_PRUNING_VALUE":        "lots",
		"OTUDATA_MAX_RETRIES":          "three",
		"OTUDATA_RETRY_WAIT":           "2 seconds",
		"OTUDATA_APPROXIMATE_MATCHING": "maybe",
	}))
	require.Error(t, err)

	for _, name := range []string{"PRUNING_VALUE", "MAX_RETRIES", "RETRY_WAIT", "APPROXIMATE_MATCHING"} {
		assert.Contains(t, err.Error(), ENV_PREFIX+name)
	}
	// Bad values leave the previous setting in place.
	assert.Equal(t, 1.5, cfg.PruningValue)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"pruning value below one", func(c *Config) { c.PruningValue = 0.5 }, true},
		{"pruning value zero", func(c *Config) { c.PruningValue = 0 }, true},
		{"negative pruning value", func(c *Config) { c.PruningValue = -1 }, false},
		{"NaN pruning value", func(c *Config) { c.PruningValue = math.NaN() }, false},
		{"empty url", func(c *Config) { c.TNRS.URL = "" }, false},
		{"zero concurrency", func(c *Config) { c.TNRS.MaxConcurrency = 0 }, false},
		{"no retries", func(c *Config) { c.TNRS.MaxRetries = 0 }, true},
		{"negative retries", func(c *Config) { c.TNRS.MaxRetries = -1 }, false},
		{"zero retry wait", func(c *Config) { c.TNRS.RetryWait = 0 }, false},
		{"max wait below wait", func(c *Config) { c.TNRS.MaxRetryWait = time.Second }, false},
		{"zero timeout", func(c *Config) { c.TNRS.RequestTimeout = 0 }, false},
		{"unthrottled", func(c *Config) { c.TNRS.RequestsPerSecond = 0 }, true},
		{"negative rate", func(c *Config) { c.TNRS.RequestsPerSecond = -2 }, false},
		{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.TNRS.ContextName = "Fungi"

	co := cfg.ClientOptions()
	assert.Equal(t, cfg.TNRS.URL, co.BaseURL)
	assert.Equal(t, cfg.TNRS.RequestTimeout, co.Timeout)
	assert.Equal(t, "Fungi", co.ContextName)

	ro := cfg.ResolverOptions()
	assert.Equal(t, cfg.TNRS.MaxRetries, ro.MaxRetries)
	assert.Equal(t, cfg.TNRS.MaxConcurrency, ro.MaxConcurrency)
}
