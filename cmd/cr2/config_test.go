package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anyappinc/cr2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "fail", cfg.Estimator.Policy)
	assert.Equal(t, "strict", cfg.Estimator.Layout)
	assert.Equal(t, cr2.DefaultRidge, cfg.Estimator.Ridge)
	assert.Equal(t, "warn", cfg.LogLevel)

	// columns are required
	assert.Error(t, cfg.Validate())
}

func TestLoadConfigPriority(t *testing.T) {
	path := writeFile(t, "cr2.yaml", `
data:
  response: y
  regressors: [x1, x2]
  cluster: firm
estimator:
  policy: regularize
  ridge: 0.01
  layout: block
  workers: 2
log_level: info
`)
	t.Setenv("CR2_RIDGE", "0.5")
	t.Setenv("CR2_WORKERS", "not a number")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "y", cfg.Data.Response)
	assert.Equal(t, []string{"x1", "x2"}, cfg.Data.Regressors)
	assert.Equal(t, "firm", cfg.Data.Cluster)
	assert.Equal(t, "regularize", cfg.Estimator.Policy)
	assert.Equal(t, "block", cfg.Estimator.Layout)
	assert.Equal(t, 0.5, cfg.Estimator.Ridge, "env overrides file")
	assert.Equal(t, 2, cfg.Estimator.Workers, "unparsable env is ignored")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, cr2.DefaultConditionThreshold, cfg.Estimator.ConditionThreshold, "defaults survive")
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "cr2.json", `{"data": {"response": "y", "regressors": ["x"], "cluster": "g"}, "json": true}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "g", cfg.Data.Cluster)
	assert.True(t, cfg.JSON)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "bad.yaml", "data: [unterminated"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CR2_RESPONSE", "sales")
	t.Setenv("CR2_REGRESSORS", "price, ads ,")
	t.Setenv("CR2_CLUSTER", "store")
	t.Setenv("CR2_POLICY", "Regularize")
	t.Setenv("CR2_LAYOUT", "BLOCK")
	t.Setenv("CR2_JSON", "1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"price", "ads"}, cfg.Data.Regressors)
	assert.True(t, cfg.JSON)

	est, err := cfg.Estimator.NewEstimator()
	require.NoError(t, err)
	assert.NotNil(t, est)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Data = DataConfig{Response: "y", Regressors: []string{"x"}, Cluster: "g"}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no response", func(c *Config) { c.Data.Response = "" }},
		{"no regressors", func(c *Config) { c.Data.Regressors = nil }},
		{"no cluster", func(c *Config) { c.Data.Cluster = "" }},
		{"policy", func(c *Config) { c.Estimator.Policy = "skip" }},
		{"layout", func(c *Config) { c.Estimator.Layout = "flat" }},
		{"ridge", func(c *Config) { c.Estimator.Ridge = 0 }},
		{"condition threshold", func(c *Config) { c.Estimator.ConditionThreshold = 0 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	_, silent, err := parseLogLevel("silent")
	require.NoError(t, err)
	assert.True(t, silent)

	level, silent, err := parseLogLevel("Debug")
	require.NoError(t, err)
	assert.False(t, silent)
	assert.Equal(t, 0, int(level))
}
