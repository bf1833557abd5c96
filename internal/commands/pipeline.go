package commands

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/fleetsight-systems/fleetsight/internal/notifier"
	"github.com/fleetsight-systems/fleetsight/internal/pipeline"
	"github.com/fleetsight-systems/fleetsight/internal/state"
)

var pipelineScenario string

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full daily batch",
	Long: `Run the complete daily batch: load the corpus, fit the survival
model, scan for change-points, publish outputs and episode alerts, and
record batch diagnostics. With --scenario the sampling experiment runs
afterwards against that ground truth.`,
	RunE: runPipeline,
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineScenario, "scenario", "", "also run the sampling experiment against this scenario YAML")
	rootCmd.AddCommand(pipelineCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	repo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	src, err := openSource(repo)
	if err != nil {
		return err
	}

	stateMgr := state.NewManager(nil, false)
	if cfg.Redis.Enabled {
		client, err := state.Connect(cfg.Redis.URL, cfg.Redis.MaxRetries, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
		defer client.Close()
		stateMgr = state.NewManager(client, true)
	}

	notif, err := notifier.New(notifier.Config{
		URL:           cfg.NATS.URL,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Enabled:       cfg.NATS.Enabled,
	}, log)
	if err != nil {
		return err
	}
	defer notif.Drain()

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	p := pipeline.New(cfg, pipeline.Deps{
		Repo:     repo,
		Source:   src,
		State:    stateMgr,
		Notifier: notif,
	}, log)
	if _, err := p.Run(ctx); err != nil {
		return err
	}

	if pipelineScenario != "" {
		experimentScenario = pipelineScenario
		return runExperiment(cmd, nil)
	}
	return nil
}
