// Command cr2 fits a linear model on a CSV file and reports CR2
// cluster-robust standard errors next to the classical ones.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/anyappinc/cr2/logger"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitSuccess = 0
	exitError   = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cr2",
		Short:        "Cluster-robust (CR2) standard errors for linear models",
		SilenceUsage: true,
	}
	root.AddCommand(newEstimateCmd())
	return root
}

// estimateFlags holds the raw flag values; only flags set on the command
// line override the configuration.
type estimateFlags struct {
	configPath string
	response   string
	regressors []string
	cluster    string
	weights    string
	policy     string
	ridge      float64
	layout     string
	workers    int
	logLevel   string
	json       bool
}

func newEstimateCmd() *cobra.Command {
	var f estimateFlags
	cmd := &cobra.Command{
		Use:   "estimate <data.csv>",
		Short: "Fit the model and estimate CR2 standard errors",
		Long: `Fits y on the regressors (with an intercept) by least squares and computes
CR2 cluster-robust standard errors with observations grouped by the cluster
column.

Settings are read from defaults, then the --config file (YAML or JSON), then
CR2_* environment variables, then flags.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return runEstimate(cmd.OutOrStdout(), args[0], cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "YAML or JSON configuration file")
	flags.StringVarP(&f.response, "response", "y", "", "response column")
	flags.StringSliceVarP(&f.regressors, "regressors", "x", nil, "comma separated regressor columns")
	flags.StringVarP(&f.cluster, "cluster", "c", "", "cluster id column")
	flags.StringVarP(&f.weights, "weights", "w", "", "regression weight column (weighted least squares)")
	flags.StringVar(&f.policy, "policy", "", "singular cluster policy: fail or regularize")
	flags.Float64Var(&f.ridge, "ridge", 0, "relative ridge for the regularize policy")
	flags.StringVar(&f.layout, "layout", "", "first correction term layout: strict or block")
	flags.IntVar(&f.workers, "workers", 0, "clusters processed concurrently (0: GOMAXPROCS)")
	flags.StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error or silent")
	flags.BoolVar(&f.json, "json", false, "print the report as JSON")
	return cmd
}

// resolveConfig layers the flags set on the command line over LoadConfig.
func resolveConfig(cmd *cobra.Command, f estimateFlags) (Config, error) {
	cfg, err := LoadConfig(f.configPath)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("response") {
		cfg.Data.Response = f.response
	}
	if changed("regressors") {
		cfg.Data.Regressors = f.regressors
	}
	if changed("cluster") {
		cfg.Data.Cluster = f.cluster
	}
	if changed("weights") {
		cfg.Data.Weights = f.weights
	}
	if changed("policy") {
		cfg.Estimator.Policy = f.policy
	}
	if changed("ridge") {
		cfg.Estimator.Ridge = f.ridge
	}
	if changed("layout") {
		cfg.Estimator.Layout = f.layout
	}
	if changed("workers") {
		cfg.Estimator.Workers = f.workers
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("json") {
		cfg.JSON = f.json
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyLogLevel(s string) error {
	level, silent, err := parseLogLevel(s)
	if err != nil {
		return err
	}
	if silent {
		logger.Silence()
		return nil
	}
	logger.SetLogsLevel(level)
	return nil
}

func runEstimate(out io.Writer, path string, cfg Config) error {
	if err := applyLogLevel(cfg.LogLevel); err != nil {
		return err
	}

	ds, err := LoadDataset(path, cfg.Data)
	if err != nil {
		return err
	}
	model, err := ds.Fit()
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	est, err := cfg.Estimator.NewEstimator()
	if err != nil {
		return err
	}
	res, err := est.Estimate(model, ds.Clusters)
	if err != nil {
		return fmt.Errorf("estimate: %w", err)
	}

	report := NewReport(model, res, cfg.Estimator)
	if cfg.JSON {
		return report.WriteJSON(out)
	}
	return report.WriteTable(out)
}
