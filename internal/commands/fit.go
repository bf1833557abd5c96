package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/corpus"
	"github.com/fleetsight-systems/fleetsight/internal/repository"
	"github.com/fleetsight-systems/fleetsight/internal/survival"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the Bayesian survival model over the corpus",
	Long: `Fit the Weibull hazard model over the configured corpus window and
publish per-vehicle hazard and time-to-event estimates to the warehouse.
Non-convergent fits are retried once with doubled sampling effort and
published for audit either way.`,
	RunE: runFit,
}

func init() {
	rootCmd.AddCommand(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var repo repository.Repository
	if !dryRun || cfg.Corpus.Source == "postgres" {
		var err error
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

	fit, err := survival.New(survivalConfig(), log).Fit(ctx, c.ExposureRecords())
	if err != nil {
		return fmt.Errorf("survival fit: %w", err)
	}
	outputs := fit.Outputs(time.Now().UTC())

	if dryRun {
		return printJSON(struct {
			Run     any `json:"model_run"`
			Outputs any `json:"outputs"`
		}{fit.Run, outputs})
	}
	if err := repo.PublishSurvivalRun(ctx, fit.Run, outputs); err != nil {
		return fmt.Errorf("publish survival run: %w", err)
	}
	log.Info("survival run published", "run_id", fit.Run.RunID, "outputs", len(outputs))
	return nil
}
