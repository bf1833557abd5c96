package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "localhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "fleetsight_warehouse", cfg.Database.Postgres.Database)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "fleetsight.episodes", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "postgres", cfg.Corpus.Source)
	assert.Equal(t, 90, cfg.Corpus.WindowDays)

	a := cfg.Analytics
	assert.Equal(t, 1.5, a.RegressionThreshold)
	assert.Equal(t, 0.5, a.ChangepointProbabilityThreshold)
	assert.Equal(t, 0.95, a.CredibleInterval)
	assert.Equal(t, 30, a.MinEventsForDetection)
	assert.Equal(t, 0.10, a.RareEventTargetRate)
	assert.Equal(t, uint64(42), a.RandomSeed)
	assert.Equal(t, 2000, a.Draws)
	assert.Equal(t, 1000, a.Warmup)
	assert.Equal(t, 4, a.Chains)
	assert.True(t, a.VehicleEffects)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: text
database:
  postgres:
    host: warehouse.internal
    port: 5433
corpus:
  source: jsonl
  trips_path: /data/trips.jsonl
analytics:
  regression_threshold: 2.0
  chains: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "warehouse.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 5433, cfg.Database.Postgres.Port)
	assert.Equal(t, "jsonl", cfg.Corpus.Source)
	assert.Equal(t, "/data/trips.jsonl", cfg.Corpus.TripsPath)
	assert.Equal(t, 2.0, cfg.Analytics.RegressionThreshold)
	assert.Equal(t, 2, cfg.Analytics.Chains)

	// Untouched keys keep their defaults.
	assert.Equal(t, "fleetsight_warehouse", cfg.Database.Postgres.Database)
	assert.Equal(t, 2000, cfg.Analytics.Draws)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLEETSIGHT_LOG_LEVEL", "warn")
	t.Setenv("FLEETSIGHT_DATABASE_POSTGRES_HOST", "pg.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "pg.example.com", cfg.Database.Postgres.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"probability threshold above one", func(c *Config) { c.Analytics.ChangepointProbabilityThreshold = 1.2 }},
		{"negative probability threshold", func(c *Config) { c.Analytics.ChangepointProbabilityThreshold = -0.1 }},
		{"credible interval at one", func(c *Config) { c.Analytics.CredibleInterval = 1.0 }},
		{"zero regression threshold", func(c *Config) { c.Analytics.RegressionThreshold = 0 }},
		{"zero min events", func(c *Config) { c.Analytics.MinEventsForDetection = 0 }},
		{"target rate at zero", func(c *Config) { c.Analytics.RareEventTargetRate = 0 }},
		{"zero draws", func(c *Config) { c.Analytics.Draws = 0 }},
		{"zero chains", func(c *Config) { c.Analytics.Chains = 0 }},
		{"negative warmup", func(c *Config) { c.Analytics.Warmup = -1 }},
		{"negative workers", func(c *Config) { c.Analytics.Workers = -1 }},
		{"unknown corpus source", func(c *Config) { c.Corpus.Source = "csv" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5432, User: "fleetsight", Password: "secret",
		Database: "fleetsight_warehouse", SSLMode: "disable",
	}
	assert.Equal(t,
		"postgres://fleetsight:secret@db:5432/fleetsight_warehouse?sslmode=disable",
		p.ConnString())
}
