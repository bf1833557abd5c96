package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Batch pipeline metrics
	BatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_batch_runs_total",
			Help: "Total number of batch pipeline runs",
		},
		[]string{"status"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetsight_batch_duration_seconds",
			Help:    "Duration of batch pipeline runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Model fit metrics
	ModelFitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_model_fits_total",
			Help: "Total number of model fits by kind",
		},
		[]string{"model_kind"},
	)

	FitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetsight_fit_duration_seconds",
			Help:    "Duration of model fits in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"model_kind"},
	)

	NonConvergentRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_non_convergent_runs_total",
			Help: "Total number of fits that failed convergence after retry",
		},
	)

	// Detection metrics
	VehiclesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_vehicles_scanned_total",
			Help: "Total number of vehicle series scanned for change-points",
		},
	)

	VehiclesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_vehicles_skipped_total",
			Help: "Total number of vehicle series skipped",
		},
		[]string{"reason"},
	)

	EpisodesConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_episodes_confirmed_total",
			Help: "Total number of confirmed regression episodes",
		},
	)

	OpenEpisodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetsight_open_episodes",
			Help: "Number of currently unresolved regression episodes",
		},
	)

	MTTDHours = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetsight_mttd_hours",
			Help:    "Mean time to detection of confirmed episodes in hours",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Alerting metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsight_alerts_published_total",
			Help: "Total number of episode alerts published",
		},
		[]string{"action"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetsight_alerts_suppressed_total",
			Help: "Total number of episode alerts suppressed",
		},
	)
)
