package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight-systems/fleetsight/internal/models"
)

func setupManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewManager(client, true), mr
}

func TestIsEnabled(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tests := []struct {
		name    string
		manager *Manager
		want    bool
	}{
		{"enabled with client", NewManager(client, true), true},
		{"disabled with client", NewManager(client, false), false},
		{"enabled without client", NewManager(nil, true), false},
		{"disabled without client", NewManager(nil, false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.manager.IsEnabled())
		})
	}
}

func TestMonitorState_Lifecycle(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	t.Run("unseen vehicle starts monitoring", func(t *testing.T) {
		st, err := m.GetMonitorState(ctx, "VH_00001")
		require.NoError(t, err)
		assert.Equal(t, "VH_00001", st.VehicleID)
		assert.Equal(t, string(models.StateMonitoring), st.State)
		assert.Zero(t, st.ResumeAfter)
		assert.True(t, st.ResumeCutoff().IsZero())
	})

	t.Run("set and get roundtrip", func(t *testing.T) {
		onset := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
		st := &MonitorState{
			VehicleID:        "VH_00002",
			State:            string(models.StateConfirmedRegression),
			OpenRegressionID: "ep-123",
			ResumeAfter:      onset.Unix(),
			LastScan:         time.Now().Unix(),
		}
		require.NoError(t, m.SetMonitorState(ctx, st, time.Hour))

		got, err := m.GetMonitorState(ctx, "VH_00002")
		require.NoError(t, err)
		assert.Equal(t, string(models.StateConfirmedRegression), got.State)
		assert.Equal(t, "ep-123", got.OpenRegressionID)
		assert.True(t, got.ResumeCutoff().Equal(onset))
		assert.NotZero(t, got.UpdatedAt)
	})

	t.Run("reset returns vehicle to monitoring", func(t *testing.T) {
		st := &MonitorState{VehicleID: "VH_00003", State: string(models.StateConfirmedRegression)}
		require.NoError(t, m.SetMonitorState(ctx, st, time.Hour))
		require.NoError(t, m.ResetMonitor(ctx, "VH_00003"))

		got, err := m.GetMonitorState(ctx, "VH_00003")
		require.NoError(t, err)
		assert.Equal(t, string(models.StateMonitoring), got.State)
	})
}

func TestMonitorState_TTLExpiry(t *testing.T) {
	m, mr := setupManager(t)
	ctx := context.Background()

	st := &MonitorState{VehicleID: "VH_00004", State: string(models.StateCandidateChange)}
	require.NoError(t, m.SetMonitorState(ctx, st, 30*time.Minute))

	mr.FastForward(31 * time.Minute)

	got, err := m.GetMonitorState(ctx, "VH_00004")
	require.NoError(t, err)
	assert.Equal(t, string(models.StateMonitoring), got.State, "expired state falls back to monitoring")
}

func TestAlertSuppression(t *testing.T) {
	m, mr := setupManager(t)
	ctx := context.Background()

	suppressed, err := m.IsAlertSuppressed(ctx, "ep-555")
	require.NoError(t, err)
	assert.False(t, suppressed)

	require.NoError(t, m.RecordAlertSent(ctx, "ep-555", 24*time.Hour))

	suppressed, err = m.IsAlertSuppressed(ctx, "ep-555")
	require.NoError(t, err)
	assert.True(t, suppressed)

	t.Run("window expiry clears suppression", func(t *testing.T) {
		mr.FastForward(25 * time.Hour)
		suppressed, err := m.IsAlertSuppressed(ctx, "ep-555")
		require.NoError(t, err)
		assert.False(t, suppressed)
	})
}

func TestDisabledManager_NoOps(t *testing.T) {
	m := NewManager(nil, false)
	ctx := context.Background()

	_, err := m.GetMonitorState(ctx, "VH_00001")
	require.Error(t, err)

	require.NoError(t, m.SetMonitorState(ctx, &MonitorState{VehicleID: "VH_00001"}, time.Hour))
	require.NoError(t, m.ResetMonitor(ctx, "VH_00001"))
	require.NoError(t, m.RecordAlertSent(ctx, "ep-1", time.Hour))

	suppressed, err := m.IsAlertSuppressed(ctx, "ep-1")
	require.NoError(t, err)
	assert.False(t, suppressed, "a disabled manager never suppresses alerts")
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect("not-a-url", 3, 10)
	require.Error(t, err)
}
