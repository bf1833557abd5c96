package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/fleetgen"
)

var (
	seedOut            string
	seedVehicles       int
	seedDays           int
	seedTripsPerDay    int
	seedRareRate       float64
	seedRegressionProb float64
	seedSeed           uint64
	seedToWarehouse    bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate a synthetic fleet corpus with ground truth",
	Long: `Generate a synthetic fleet telemetry corpus: trips, safety events,
rare failures, and injected hazard regressions with known onsets. The
corpus is written as JSONL files (or loaded into the staging tables
with --to-warehouse) together with a scenario.yaml ground-truth sidecar
for the experiment command.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedOut, "out", "data", "output directory for JSONL files and the scenario sidecar")
	seedCmd.Flags().IntVar(&seedVehicles, "vehicles", 200, "fleet size")
	seedCmd.Flags().IntVar(&seedDays, "days", 90, "window length in days")
	seedCmd.Flags().IntVar(&seedTripsPerDay, "trips-per-day", 5, "average trips per vehicle per day")
	seedCmd.Flags().Float64Var(&seedRareRate, "rare-rate", 0.001, "per-trip rare failure probability")
	seedCmd.Flags().Float64Var(&seedRegressionProb, "regression-prob", 0.1, "per-vehicle probability of an injected regression")
	seedCmd.Flags().Uint64Var(&seedSeed, "seed", 0, "generator seed (default: analytics.random_seed)")
	seedCmd.Flags().BoolVar(&seedToWarehouse, "to-warehouse", false, "load the corpus into the staging tables instead of JSONL files")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	seed := seedSeed
	if !cmd.Flags().Changed("seed") {
		seed = cfg.Analytics.RandomSeed
	}

	gen := fleetgen.Config{
		Start:              time.Now().UTC().AddDate(0, 0, -seedDays),
		Days:               seedDays,
		Vehicles:           seedVehicles,
		TripsPerVehicleDay: seedTripsPerDay,
		RareEventRate:      seedRareRate,
		RegressionProb:     seedRegressionProb,
		Seed:               seed,
	}
	fleet := fleetgen.Generate(gen)
	fleet.SortByTime()
	log.Info("fleet generated",
		"vehicles", seedVehicles,
		"days", seedDays,
		"trips", len(fleet.Trips),
		"events", len(fleet.Events),
		"injected_regressions", len(fleet.Injected))

	if err := os.MkdirAll(seedOut, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	sc := fleet.Scenario("synthetic-fleet", gen)
	if err := sc.Save(filepath.Join(seedOut, "scenario.yaml")); err != nil {
		return err
	}

	if seedToWarehouse {
		repo, err := openRepo(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.InsertTrips(ctx, fleet.Trips); err != nil {
			return fmt.Errorf("stage trips: %w", err)
		}
		if err := repo.InsertEvents(ctx, fleet.Events); err != nil {
			return fmt.Errorf("stage events: %w", err)
		}
		log.Info("corpus staged", "trips", len(fleet.Trips), "events", len(fleet.Events))
		return nil
	}

	if err := fleet.WriteJSONL(seedOut); err != nil {
		return err
	}
	log.Info("corpus written", "dir", seedOut)
	return nil
}
