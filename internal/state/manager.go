// Package state keeps the cross-run detection state in Redis: where
// each vehicle's monitoring lifecycle stands between daily batches, and
// which episode alerts were already published.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// Manager manages detection state in Redis
type Manager struct {
	redis   *redis.Client
	enabled bool
}

// NewManager creates a new state manager
func NewManager(redisClient *redis.Client, enabled bool) *Manager {
	return &Manager{
		redis:   redisClient,
		enabled: enabled,
	}
}

// Connect builds a Redis client from a URL and verifies the connection.
func Connect(redisURL string, maxRetries, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opt.MaxRetries = maxRetries
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

// IsEnabled returns whether the state manager is enabled
func (m *Manager) IsEnabled() bool {
	return m.enabled && m.redis != nil
}

// MonitorState is a vehicle's detection lifecycle position carried
// between batch runs.
type MonitorState struct {
	VehicleID        string `json:"vehicle_id"`
	State            string `json:"state"`
	OpenRegressionID string `json:"open_regression_id,omitempty"`
	// ResumeAfter is the confirmed change-point, Unix seconds. Scans
	// restart strictly after it so the same change is not re-detected.
	ResumeAfter int64 `json:"resume_after,omitempty"`
	LastScan    int64 `json:"last_scan"`
	UpdatedAt   int64 `json:"updated_at"`
}

// ResumeCutoff returns the resume-after cutoff, zero time when unset.
func (s *MonitorState) ResumeCutoff() time.Time {
	if s.ResumeAfter == 0 {
		return time.Time{}
	}
	return time.Unix(s.ResumeAfter, 0).UTC()
}

// GetMonitorState retrieves a vehicle's monitoring state. A vehicle
// never seen before starts in MONITORING.
func (m *Manager) GetMonitorState(ctx context.Context, vehicleID string) (*MonitorState, error) {
	if !m.IsEnabled() {
		return nil, fmt.Errorf("state manager is disabled")
	}

	key := m.monitorKey(vehicleID)
	data, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return &MonitorState{
			VehicleID: vehicleID,
			State:     string(models.StateMonitoring),
			UpdatedAt: time.Now().Unix(),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor state: %w", err)
	}

	var st MonitorState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal monitor state: %w", err)
	}

	return &st, nil
}

// SetMonitorState saves a vehicle's monitoring state. The TTL should
// comfortably exceed the batch cadence so quiet vehicles age out.
func (m *Manager) SetMonitorState(ctx context.Context, st *MonitorState, ttl time.Duration) error {
	if !m.IsEnabled() {
		return nil // Skip if state manager is disabled
	}

	st.UpdatedAt = time.Now().Unix()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal monitor state: %w", err)
	}

	key := m.monitorKey(st.VehicleID)
	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save monitor state: %w", err)
	}

	return nil
}

// ResetMonitor clears a vehicle's monitoring state, typically after an
// episode resolution.
func (m *Manager) ResetMonitor(ctx context.Context, vehicleID string) error {
	if !m.IsEnabled() {
		return nil // Skip if state manager is disabled
	}

	if err := m.redis.Del(ctx, m.monitorKey(vehicleID)).Err(); err != nil {
		return fmt.Errorf("failed to reset monitor state: %w", err)
	}

	return nil
}

// IsAlertSuppressed checks whether an alert for this episode was
// already published inside the suppression window.
func (m *Manager) IsAlertSuppressed(ctx context.Context, regressionID string) (bool, error) {
	if !m.IsEnabled() {
		return false, nil // Don't suppress if state manager is disabled
	}

	exists, err := m.redis.Exists(ctx, m.alertKey(regressionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check alert suppression: %w", err)
	}

	return exists > 0, nil
}

// RecordAlertSent marks an episode alert as published for the duration
// of the suppression window.
func (m *Manager) RecordAlertSent(ctx context.Context, regressionID string, window time.Duration) error {
	if !m.IsEnabled() {
		return nil // Skip if state manager is disabled
	}

	payload := fmt.Sprintf(`{"sent_at":%d}`, time.Now().Unix())
	if err := m.redis.Set(ctx, m.alertKey(regressionID), payload, window).Err(); err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}

	return nil
}

// monitorKey generates a Redis key for a vehicle's monitoring state
func (m *Manager) monitorKey(vehicleID string) string {
	return fmt.Sprintf("fleetsight:monitor:%s", vehicleID)
}

// alertKey generates a Redis key for alert suppression
func (m *Manager) alertKey(regressionID string) string {
	return fmt.Sprintf("fleetsight:alertsent:%s", regressionID)
}
