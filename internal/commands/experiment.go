package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/corpus"
	"github.com/fleetsight-systems/fleetsight/internal/experiment"
	"github.com/fleetsight-systems/fleetsight/internal/repository"
	"github.com/fleetsight-systems/fleetsight/internal/sampling"
)

var (
	experimentScenario   string
	experimentSampleSize int
	experimentTrials     int
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Compare sampling methods against ground-truth regressions",
	Long: `Replay the corpus under each sampling method (uniform, stratified,
importance, adaptive) and score detection sensitivity, false-positive
rate, and MTTD against the scenario's injected regressions. MTTD
improvement is always reported relative to the uniform method from the
same run, with a two-sample significance test.`,
	RunE: runExperiment,
}

func init() {
	experimentCmd.Flags().StringVar(&experimentScenario, "scenario", "", "ground-truth scenario YAML (required)")
	experimentCmd.Flags().IntVar(&experimentSampleSize, "sample-size", 2000, "total review budget per trial")
	experimentCmd.Flags().IntVar(&experimentTrials, "trials", 10, "independent replications per method")
	experimentCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(experimentCmd)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sc, err := experiment.LoadScenario(experimentScenario)
	if err != nil {
		return err
	}

	var repo repository.Repository
	if !dryRun || cfg.Corpus.Source == "postgres" {
		repo, err = openRepo(ctx)
		if err != nil {
			return err
		}
		defer repo.Close()
	}

	src, err := openSource(repo)
	if err != nil {
		return err
	}
	c, err := corpus.Load(ctx, src, log)
	if err != nil {
		return err
	}

	runner := experiment.New(experimentConfig(sc.RareEventRate), log)
	res, err := runner.Run(ctx, c.Trips, c.Events, sc)
	if err != nil {
		return fmt.Errorf("experiment: %w", err)
	}

	if dryRun {
		return printJSON(struct {
			Run     any `json:"model_run"`
			Results any `json:"results"`
		}{res.Run, res.Results})
	}
	if err := repo.PublishExperiment(ctx, res.Run, res.Results); err != nil {
		return fmt.Errorf("publish experiment: %w", err)
	}
	log.Info("experiment published", "experiment_id", res.Run.RunID, "methods", len(res.Results))
	return nil
}

// experimentConfig maps config plus command flags onto a runner config.
// The population rare-event rate comes from the scenario ground truth.
func experimentConfig(rareRate float64) experiment.Config {
	a := cfg.Analytics
	return experiment.Config{
		SampleSize: experimentSampleSize,
		Trials:     experimentTrials,
		Seed:       a.RandomSeed,
		Workers:    a.Workers,
		Detector:   detectorConfig(),
		Sampling: sampling.Config{
			RareEventRate: rareRate,
			TargetRate:    a.RareEventTargetRate,
		},
	}
}
