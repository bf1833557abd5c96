package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Connection pool configuration
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// InsertTrips stages trips, skipping rows already present.
func (r *PostgresRepository) InsertTrips(ctx context.Context, trips []models.Trip) error {
	query := `
		INSERT INTO staging_trips (trip_id, vehicle_id, start_ts, end_ts, operating_mode)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trip_id) DO NOTHING
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trips {
		if _, err := tx.Exec(ctx, query, t.TripID, t.VehicleID, t.StartTS, t.EndTS, t.OperatingMode); err != nil {
			return fmt.Errorf("failed to insert trip %s: %w", t.TripID, err)
		}
	}

	return tx.Commit(ctx)
}

// InsertEvents stages events, skipping rows already present.
func (r *PostgresRepository) InsertEvents(ctx context.Context, events []models.Event) error {
	query := `
		INSERT INTO staging_events (
			event_id, trip_id, vehicle_id, event_timestamp, event_type,
			event_severity, event_category, is_rare_event, latency_ms, confidence_score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range events {
		if _, err := tx.Exec(ctx, query,
			ev.EventID, ev.TripID, ev.VehicleID, ev.Timestamp, ev.EventType,
			ev.Severity, ev.EventCategory, ev.IsRareEvent, ev.LatencyMS, ev.ConfidenceScore,
		); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.EventID, err)
		}
	}

	return tx.Commit(ctx)
}

// StagingTrips reads staged trips with start_ts in [from, to).
func (r *PostgresRepository) StagingTrips(ctx context.Context, from, to time.Time) ([]models.Trip, error) {
	query := `
		SELECT trip_id, vehicle_id, start_ts, end_ts, operating_mode
		FROM staging_trips
		WHERE start_ts >= $1 AND start_ts < $2
		ORDER BY start_ts
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query staging trips: %w", err)
	}
	defer rows.Close()

	trips := []models.Trip{}
	for rows.Next() {
		var t models.Trip
		if err := rows.Scan(&t.TripID, &t.VehicleID, &t.StartTS, &t.EndTS, &t.OperatingMode); err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return trips, nil
}

// StagingEvents reads staged events with event_timestamp in [from, to).
func (r *PostgresRepository) StagingEvents(ctx context.Context, from, to time.Time) ([]models.Event, error) {
	query := `
		SELECT event_id, trip_id, vehicle_id, event_timestamp, event_type,
		       event_severity, event_category, is_rare_event, latency_ms, confidence_score
		FROM staging_events
		WHERE event_timestamp >= $1 AND event_timestamp < $2
		ORDER BY event_timestamp
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query staging events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(
			&ev.EventID, &ev.TripID, &ev.VehicleID, &ev.Timestamp, &ev.EventType,
			&ev.Severity, &ev.EventCategory, &ev.IsRareEvent, &ev.LatencyMS, &ev.ConfidenceScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return events, nil
}

func insertModelRun(ctx context.Context, tx pgx.Tx, run models.ModelRun) error {
	query := `
		INSERT INTO model_runs (
			run_id, run_timestamp, model_kind, convergence_flag,
			rhat_max, effective_sample_size, hyperparameters
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.Exec(ctx, query,
		run.RunID, run.RunTimestamp, run.ModelKind, run.ConvergenceFlag,
		run.RhatMax, run.EffectiveSampleSize, run.Hyperparameters,
	)
	if err != nil {
		return fmt.Errorf("failed to insert model run: %w", err)
	}
	return nil
}

// PublishSurvivalRun writes a survival model run and all its output
// rows in one transaction.
func (r *PostgresRepository) PublishSurvivalRun(ctx context.Context, run models.ModelRun, outputs []models.SurvivalOutput) error {
	query := `
		INSERT INTO model_survival_outputs (
			model_run_id, model_run_timestamp, vehicle_id, date_key,
			baseline_hazard_rate, hazard_rate_lower_ci, hazard_rate_upper_ci,
			predicted_time_to_event_hours, predicted_time_lower_ci, predicted_time_upper_ci,
			convergence_flag, rhat_max, effective_sample_size, model_version, hyperparameters
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertModelRun(ctx, tx, run); err != nil {
		return err
	}
	for _, o := range outputs {
		if _, err := tx.Exec(ctx, query,
			o.ModelRunID, o.ModelRunTimestamp, o.VehicleID, o.DateKey,
			o.BaselineHazardRate, o.HazardRateLowerCI, o.HazardRateUpperCI,
			o.PredictedTimeToEventHrs, o.PredictedTimeLowerCI, o.PredictedTimeUpperCI,
			o.ConvergenceFlag, o.RhatMax, o.EffectiveSampleSize, o.ModelVersion, o.Hyperparameters,
		); err != nil {
			return fmt.Errorf("failed to insert survival output: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// PublishChangepointRun writes a change-point run and all its scan
// audit rows in one transaction.
func (r *PostgresRepository) PublishChangepointRun(ctx context.Context, run models.ModelRun, outputs []models.ChangepointOutput) error {
	query := `
		INSERT INTO model_changepoint_outputs (
			model_run_id, model_run_timestamp, vehicle_id, date_key,
			changepoint_detected, changepoint_timestamp, changepoint_probability,
			pre_change_hazard_rate, post_change_hazard_rate,
			hazard_ratio, hazard_ratio_lower_ci, hazard_ratio_upper_ci,
			convergence_flag, rhat_max, model_version, hyperparameters
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertModelRun(ctx, tx, run); err != nil {
		return err
	}
	for _, o := range outputs {
		if _, err := tx.Exec(ctx, query,
			o.ModelRunID, o.ModelRunTimestamp, o.VehicleID, o.DateKey,
			o.ChangepointDetected, o.ChangepointTimestamp, o.ChangepointProbability,
			o.PreChangeHazardRate, o.PostChangeHazardRate,
			o.HazardRatio, o.HazardRatioLowerCI, o.HazardRatioUpperCI,
			o.ConvergenceFlag, o.RhatMax, o.ModelVersion, o.Hyperparameters,
		); err != nil {
			return fmt.Errorf("failed to insert changepoint output: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// PublishExperiment writes a sampling experiment run and its per-method
// result rows in one transaction.
func (r *PostgresRepository) PublishExperiment(ctx context.Context, run models.ModelRun, results []models.SamplingExperimentResult) error {
	query := `
		INSERT INTO model_importance_sampling_results (
			experiment_id, run_timestamp, method, sample_size, trials,
			detection_sensitivity, false_positive_rate,
			mttd_hours, mttd_improvement_pct, p_value, effect_size
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertModelRun(ctx, tx, run); err != nil {
		return err
	}
	for _, res := range results {
		if _, err := tx.Exec(ctx, query,
			res.ExperimentID, res.RunTimestamp, res.Method, res.SampleSize, res.Trials,
			res.DetectionSensitivity, res.FalsePositiveRate,
			res.MTTDHours, res.MTTDImprovementPct, res.PValue, res.EffectSize,
		); err != nil {
			return fmt.Errorf("failed to insert experiment result: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetModelRun retrieves a model run by ID
func (r *PostgresRepository) GetModelRun(ctx context.Context, runID string) (*models.ModelRun, error) {
	query := `
		SELECT run_id, run_timestamp, model_kind, convergence_flag,
		       rhat_max, effective_sample_size, hyperparameters
		FROM model_runs
		WHERE run_id = $1
	`

	run := &models.ModelRun{}
	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&run.RunID, &run.RunTimestamp, &run.ModelKind, &run.ConvergenceFlag,
		&run.RhatMax, &run.EffectiveSampleSize, &run.Hyperparameters,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get model run: %w", err)
	}

	return run, nil
}

const episodeColumns = `
	regression_id, model_run_id, vehicle_id, state,
	regression_start_ts, regression_end_ts, detection_ts, mttd_hours,
	baseline_hazard_rate, regression_hazard_rate,
	hazard_ratio, hazard_ratio_lo, hazard_ratio_hi,
	changepoint_probability, is_resolved
`

func scanEpisode(row pgx.Row) (*models.RegressionEpisode, error) {
	ep := &models.RegressionEpisode{}
	err := row.Scan(
		&ep.RegressionID, &ep.ModelRunID, &ep.VehicleID, &ep.State,
		&ep.RegressionStartTS, &ep.RegressionEndTS, &ep.DetectionTS, &ep.MTTDHours,
		&ep.BaselineHazardRate, &ep.RegressionHazardRate,
		&ep.HazardRatio, &ep.HazardRatioLo, &ep.HazardRatioHi,
		&ep.ChangepointProbability, &ep.IsResolved,
	)
	if err != nil {
		return nil, err
	}
	return ep, nil
}

// UpsertEpisode inserts or updates a regression episode keyed by its
// deterministic regression_id, so re-running a scan never duplicates
// an episode.
func (r *PostgresRepository) UpsertEpisode(ctx context.Context, ep *models.RegressionEpisode) error {
	query := `
		INSERT INTO regression_episodes (` + episodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (regression_id) DO UPDATE SET
			model_run_id = EXCLUDED.model_run_id,
			state = EXCLUDED.state,
			detection_ts = EXCLUDED.detection_ts,
			mttd_hours = EXCLUDED.mttd_hours,
			baseline_hazard_rate = EXCLUDED.baseline_hazard_rate,
			regression_hazard_rate = EXCLUDED.regression_hazard_rate,
			hazard_ratio = EXCLUDED.hazard_ratio,
			hazard_ratio_lo = EXCLUDED.hazard_ratio_lo,
			hazard_ratio_hi = EXCLUDED.hazard_ratio_hi,
			changepoint_probability = EXCLUDED.changepoint_probability
		WHERE NOT regression_episodes.is_resolved
	`

	_, err := r.pool.Exec(ctx, query,
		ep.RegressionID, ep.ModelRunID, ep.VehicleID, ep.State,
		ep.RegressionStartTS, ep.RegressionEndTS, ep.DetectionTS, ep.MTTDHours,
		ep.BaselineHazardRate, ep.RegressionHazardRate,
		ep.HazardRatio, ep.HazardRatioLo, ep.HazardRatioHi,
		ep.ChangepointProbability, ep.IsResolved,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert episode: %w", err)
	}

	return nil
}

// GetEpisode retrieves an episode by ID
func (r *PostgresRepository) GetEpisode(ctx context.Context, regressionID string) (*models.RegressionEpisode, error) {
	query := `SELECT ` + episodeColumns + ` FROM regression_episodes WHERE regression_id = $1`

	ep, err := scanEpisode(r.pool.QueryRow(ctx, query, regressionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}

	return ep, nil
}

// GetOpenEpisode retrieves the most recent unresolved episode for a
// vehicle, if any.
func (r *PostgresRepository) GetOpenEpisode(ctx context.Context, vehicleID string) (*models.RegressionEpisode, error) {
	query := `
		SELECT ` + episodeColumns + `
		FROM regression_episodes
		WHERE vehicle_id = $1 AND NOT is_resolved
		ORDER BY detection_ts DESC
		LIMIT 1
	`

	ep, err := scanEpisode(r.pool.QueryRow(ctx, query, vehicleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("failed to get open episode: %w", err)
	}

	return ep, nil
}

// ListEpisodes retrieves episodes, optionally filtered by state.
func (r *PostgresRepository) ListEpisodes(ctx context.Context, state models.EpisodeState, limit int) ([]*models.RegressionEpisode, error) {
	query := `SELECT ` + episodeColumns + ` FROM regression_episodes`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, state)
	}
	query += fmt.Sprintf(` ORDER BY detection_ts DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	episodes := []*models.RegressionEpisode{}
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, ep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return episodes, nil
}

// ResolveEpisode closes a confirmed episode. Only confirmed, unresolved
// episodes can be resolved; resolved episodes are never re-opened.
func (r *PostgresRepository) ResolveEpisode(ctx context.Context, regressionID string, endTS time.Time) error {
	query := `
		UPDATE regression_episodes
		SET state = $1, regression_end_ts = $2, is_resolved = TRUE
		WHERE regression_id = $3 AND state = $4 AND NOT is_resolved
	`

	result, err := r.pool.Exec(ctx, query,
		models.StateResolved, endTS, regressionID, models.StateConfirmedRegression)
	if err != nil {
		return fmt.Errorf("failed to resolve episode: %w", err)
	}

	if result.RowsAffected() == 0 {
		ep, err := r.GetEpisode(ctx, regressionID)
		if err != nil {
			return err
		}
		if ep.IsResolved {
			return models.ErrAlreadyResolved
		}
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, ep.State, models.StateResolved)
	}

	return nil
}

// InsertDiagnostics records the recoverable-failure counts of one batch.
func (r *PostgresRepository) InsertDiagnostics(ctx context.Context, d models.BatchDiagnostics) error {
	query := `
		INSERT INTO model_run_diagnostics (
			run_id, run_timestamp, vehicles_total, vehicles_skipped,
			insufficient_data_warnings, non_convergent_runs,
			degenerate_baselines, episodes_confirmed
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		d.RunID, d.RunTimestamp, d.VehiclesTotal, d.VehiclesSkipped,
		d.InsufficientData, d.NonConvergentRuns,
		d.DegenerateBaselines, d.EpisodesConfirmed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert diagnostics: %w", err)
	}

	return nil
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
