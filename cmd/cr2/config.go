package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/anyappinc/cr2"
	"github.com/anyappinc/cr2/logger"
	"gopkg.in/yaml.v3"
)

// Config holds everything the estimate command needs.
type Config struct {
	// Data names the columns of the input file.
	Data DataConfig `json:"data" yaml:"data"`

	// Estimator contains the CR2 estimator settings.
	Estimator EstimatorConfig `json:"estimator" yaml:"estimator"`

	// LogLevel is one of debug, info, warn, error or silent.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// JSON switches the report to JSON.
	JSON bool `json:"json" yaml:"json"`
}

// DataConfig names the input columns.
type DataConfig struct {
	Response   string   `json:"response" yaml:"response"`
	Regressors []string `json:"regressors" yaml:"regressors"`
	Cluster    string   `json:"cluster" yaml:"cluster"`
	Weights    string   `json:"weights" yaml:"weights"`
}

// EstimatorConfig mirrors the setters of cr2.Estimator.
type EstimatorConfig struct {
	Policy             string  `json:"policy" yaml:"policy"`
	Ridge              float64 `json:"ridge" yaml:"ridge"`
	Layout             string  `json:"layout" yaml:"layout"`
	Workers            int     `json:"workers" yaml:"workers"`
	ConditionThreshold float64 `json:"condition_threshold" yaml:"condition_threshold"`
}

// DefaultConfig returns the defaults of the library.
func DefaultConfig() Config {
	return Config{
		Estimator: EstimatorConfig{
			Policy:             cr2.SingularClusterFail.String(),
			Ridge:              cr2.DefaultRidge,
			Layout:             cr2.LayoutStrict.String(),
			Workers:            0, // GOMAXPROCS
			ConditionThreshold: cr2.DefaultConditionThreshold,
		},
		LogLevel: "warn",
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
// Command-line flags are applied on top by the caller.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("CR2_RESPONSE"); v != "" {
		config.Data.Response = v
	}
	if v := os.Getenv("CR2_REGRESSORS"); v != "" {
		config.Data.Regressors = splitList(v)
	}
	if v := os.Getenv("CR2_CLUSTER"); v != "" {
		config.Data.Cluster = v
	}
	if v := os.Getenv("CR2_WEIGHTS"); v != "" {
		config.Data.Weights = v
	}

	if v := os.Getenv("CR2_POLICY"); v != "" {
		config.Estimator.Policy = v
	}
	if v := os.Getenv("CR2_RIDGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Estimator.Ridge = f
		}
	}
	if v := os.Getenv("CR2_LAYOUT"); v != "" {
		config.Estimator.Layout = v
	}
	if v := os.Getenv("CR2_WORKERS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Estimator.Workers = i
		}
	}
	if v := os.Getenv("CR2_CONDITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Estimator.ConditionThreshold = f
		}
	}

	if v := os.Getenv("CR2_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("CR2_JSON"); v != "" {
		config.JSON = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is complete and valid.
func (c Config) Validate() error {
	if c.Data.Response == "" {
		return fmt.Errorf("response column is required")
	}
	if len(c.Data.Regressors) == 0 {
		return fmt.Errorf("at least one regressor column is required")
	}
	if c.Data.Cluster == "" {
		return fmt.Errorf("cluster column is required")
	}
	if _, err := parsePolicy(c.Estimator.Policy); err != nil {
		return err
	}
	if _, err := parseLayout(c.Estimator.Layout); err != nil {
		return err
	}
	if !(c.Estimator.Ridge > 0) {
		return fmt.Errorf("ridge must be > 0")
	}
	if !(c.Estimator.ConditionThreshold >= 1) {
		return fmt.Errorf("condition_threshold must be >= 1")
	}
	if _, _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewEstimator builds a cr2.Estimator from the settings.
func (c EstimatorConfig) NewEstimator() (*cr2.Estimator, error) {
	policy, err := parsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}
	layout, err := parseLayout(c.Layout)
	if err != nil {
		return nil, err
	}

	est := cr2.NewEstimator()
	if err := est.SetSingularClusterPolicy(policy); err != nil {
		return nil, err
	}
	if err := est.SetRidge(c.Ridge); err != nil {
		return nil, err
	}
	if err := est.SetAdjustmentLayout(layout); err != nil {
		return nil, err
	}
	if err := est.SetConditionThreshold(c.ConditionThreshold); err != nil {
		return nil, err
	}
	est.SetConcurrency(c.Workers)
	return est, nil
}

func parsePolicy(s string) (cr2.SingularClusterPolicy, error) {
	for _, p := range []cr2.SingularClusterPolicy{cr2.SingularClusterFail, cr2.SingularClusterRegularize} {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown singular cluster policy %q (want fail or regularize)", s)
}

func parseLayout(s string) (cr2.AdjustmentLayout, error) {
	for _, l := range []cr2.AdjustmentLayout{cr2.LayoutStrict, cr2.LayoutBlockDiagonal} {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown adjustment layout %q (want strict or block)", s)
}

// parseLogLevel returns the logger level, or silent = true for "silent".
func parseLogLevel(s string) (level logger.Level, silent bool, err error) {
	switch strings.ToLower(s) {
	case "debug":
		return logger.LevelDebug, false, nil
	case "info":
		return logger.LevelInfo, false, nil
	case "warn", "warning", "":
		return logger.LevelWarn, false, nil
	case "error":
		return logger.LevelError, false, nil
	case "silent":
		return 0, true, nil
	}
	return 0, false, fmt.Errorf("unknown log level %q", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
