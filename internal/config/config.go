package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the fleetsight batch engine
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	SSLMode       string `mapstructure:"sslmode"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// ConnString builds the connection string for pgx and golang-migrate.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis configuration for episode state management
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// NATSConfig holds NATS configuration for episode alert publishing
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Enabled       bool   `mapstructure:"enabled"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// CorpusConfig selects where trip/event records are read from
type CorpusConfig struct {
	Source     string `mapstructure:"source"` // "postgres" or "jsonl"
	TripsPath  string `mapstructure:"trips_path"`
	EventsPath string `mapstructure:"events_path"`
	WindowDays int    `mapstructure:"window_days"`
}

// AnalyticsConfig holds the model and detection parameters
type AnalyticsConfig struct {
	RegressionThreshold             float64 `mapstructure:"regression_threshold"`
	ChangepointProbabilityThreshold float64 `mapstructure:"changepoint_probability_threshold"`
	CredibleInterval                float64 `mapstructure:"credible_interval"`
	MinEventsForDetection           int     `mapstructure:"min_events_for_detection"`
	RareEventTargetRate             float64 `mapstructure:"rare_event_target_rate"`
	RandomSeed                      uint64  `mapstructure:"random_seed"`
	Draws                           int     `mapstructure:"draws"`
	Warmup                          int     `mapstructure:"warmup"`
	Chains                          int     `mapstructure:"chains"`
	VehicleEffects                  bool    `mapstructure:"vehicle_effects"`
	Workers                         int     `mapstructure:"workers"` // 0 means one per CPU
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "fleetsight")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "fleetsight_warehouse")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.migrations_dir", "migrations")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.subject_prefix", "fleetsight.episodes")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("corpus.source", "postgres")
	v.SetDefault("corpus.trips_path", "data/trips.jsonl")
	v.SetDefault("corpus.events_path", "data/events.jsonl")
	v.SetDefault("corpus.window_days", 90)

	v.SetDefault("analytics.regression_threshold", 1.5)
	v.SetDefault("analytics.changepoint_probability_threshold", 0.5)
	v.SetDefault("analytics.credible_interval", 0.95)
	v.SetDefault("analytics.min_events_for_detection", 30)
	v.SetDefault("analytics.rare_event_target_rate", 0.10)
	v.SetDefault("analytics.random_seed", 42)
	v.SetDefault("analytics.draws", 2000)
	v.SetDefault("analytics.warmup", 1000)
	v.SetDefault("analytics.chains", 4)
	v.SetDefault("analytics.vehicle_effects", true)
	v.SetDefault("analytics.workers", 0)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("FLEETSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks threshold ranges before any model fitting starts.
// Invalid configuration fails the job immediately.
func (c *Config) Validate() error {
	a := c.Analytics
	if a.ChangepointProbabilityThreshold < 0 || a.ChangepointProbabilityThreshold > 1 {
		return fmt.Errorf("analytics.changepoint_probability_threshold must be in [0,1], got %v", a.ChangepointProbabilityThreshold)
	}
	if a.CredibleInterval <= 0 || a.CredibleInterval >= 1 {
		return fmt.Errorf("analytics.credible_interval must be in (0,1), got %v", a.CredibleInterval)
	}
	if a.RegressionThreshold <= 0 {
		return fmt.Errorf("analytics.regression_threshold must be positive, got %v", a.RegressionThreshold)
	}
	if a.MinEventsForDetection < 1 {
		return fmt.Errorf("analytics.min_events_for_detection must be at least 1, got %d", a.MinEventsForDetection)
	}
	if a.RareEventTargetRate <= 0 || a.RareEventTargetRate >= 1 {
		return fmt.Errorf("analytics.rare_event_target_rate must be in (0,1), got %v", a.RareEventTargetRate)
	}
	if a.Draws < 1 || a.Warmup < 0 || a.Chains < 1 {
		return fmt.Errorf("analytics sampling settings must be positive (draws=%d warmup=%d chains=%d)", a.Draws, a.Warmup, a.Chains)
	}
	if a.Workers < 0 {
		return fmt.Errorf("analytics.workers must not be negative, got %d", a.Workers)
	}
	switch c.Corpus.Source {
	case "postgres", "jsonl":
	default:
		return fmt.Errorf("corpus.source must be postgres or jsonl, got %q", c.Corpus.Source)
	}
	return nil
}
