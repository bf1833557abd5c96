package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/notifier"
	"github.com/fleetsight-systems/fleetsight/internal/state"
)

var resolveEnd string

var resolveCmd = &cobra.Command{
	Use:   "resolve <regression-id>",
	Short: "Resolve a confirmed regression episode",
	Long: `Close a confirmed regression episode. Resolution is an operator
decision: the detector never resolves episodes itself, and a resolved
episode is never re-opened. The vehicle's monitoring state is reset so
the next batch scans it fresh.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveEnd, "end", "", "regression end timestamp, RFC3339 (default: now)")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	regressionID := args[0]

	endTS := time.Now().UTC()
	if resolveEnd != "" {
		var err error
		endTS, err = time.Parse(time.RFC3339, resolveEnd)
		if err != nil {
			return fmt.Errorf("invalid --end timestamp: %w", err)
		}
	}

	repo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.ResolveEpisode(ctx, regressionID, endTS); err != nil {
		return err
	}
	ep, err := repo.GetEpisode(ctx, regressionID)
	if err != nil {
		return err
	}
	log.Info("episode resolved",
		"regression_id", ep.RegressionID,
		"vehicle_id", ep.VehicleID,
		"regression_end_ts", endTS)

	if cfg.Redis.Enabled {
		client, err := state.Connect(cfg.Redis.URL, cfg.Redis.MaxRetries, cfg.Redis.PoolSize)
		if err != nil {
			log.Warn("could not reach redis, monitor state not reset", "error", err)
		} else {
			defer client.Close()
			mgr := state.NewManager(client, true)
			if err := mgr.ResetMonitor(ctx, ep.VehicleID); err != nil {
				log.Warn("failed to reset monitor state", "vehicle_id", ep.VehicleID, "error", err)
			}
		}
	}

	if cfg.NATS.Enabled {
		notif, err := notifier.New(notifier.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Enabled:       true,
		}, log)
		if err != nil {
			log.Warn("could not reach nats, resolution not announced", "error", err)
			return nil
		}
		defer notif.Drain()
		if err := notif.PublishResolved(ctx, ep); err != nil {
			log.Warn("failed to publish resolution", "error", err)
		}
	}
	return nil
}
