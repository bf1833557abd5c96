// Package commands wires the fleetsight batch engine into its CLI
// surface: corpus seeding, model fits, change-point detection, sampling
// experiments, the full daily pipeline, and episode resolution.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/config"
	"github.com/fleetsight-systems/fleetsight/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logging.Logger
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "fleetsight",
	Short: "Fleet safety regression analytics engine",
	Long: `fleetsight detects safety regressions in a vehicle fleet from batch
event telemetry: it fits Bayesian hazard models, scans per-vehicle event
series for change-points, and measures how fast alternative sampling
strategies surface rare failure modes.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI under the given signal-aware context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print outputs as JSON instead of publishing to the warehouse")
}

// initConfig loads and validates configuration. Invalid configuration
// is fatal before any model fitting starts.
func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetsight: %v\n", err)
		os.Exit(1)
	}
	log = logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logging.SetDefault(log)
}
