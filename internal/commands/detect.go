package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/changepoint"
	"github.com/fleetsight-systems/fleetsight/internal/corpus"
	"github.com/fleetsight-systems/fleetsight/internal/repository"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Scan the fleet for hazard-rate change-points",
	Long: `Scan every vehicle's daily event series for a hazard-rate shift and
publish the scan audit rows plus any confirmed regression episodes.
Vehicles with too little data are skipped and counted, never reported
as regression-free.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
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
	start, end := c.Window()
	if start.IsZero() {
		return errors.New("corpus window is empty")
	}
	series := c.DailySeries(start, int(end.Sub(start).Hours()/24))

	scan, err := changepoint.New(detectorConfig(), log).ScanFleet(ctx, series, time.Now().UTC())
	if err != nil {
		return err
	}

	if dryRun {
		return printJSON(struct {
			Run      any `json:"model_run"`
			Episodes any `json:"episodes"`
			Skipped  int `json:"vehicles_skipped"`
		}{scan.Run, scan.Episodes, scan.Skipped})
	}
	if err := repo.PublishChangepointRun(ctx, scan.Run, scan.Outputs); err != nil {
		return fmt.Errorf("publish changepoint run: %w", err)
	}
	for _, ep := range scan.Episodes {
		if err := repo.UpsertEpisode(ctx, ep); err != nil {
			return fmt.Errorf("upsert episode %s: %w", ep.RegressionID, err)
		}
	}
	log.Info("changepoint run published",
		"run_id", scan.Run.RunID,
		"scanned", len(scan.Detections),
		"skipped", scan.Skipped,
		"episodes_confirmed", len(scan.Episodes))
	return nil
}
