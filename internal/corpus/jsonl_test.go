package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestJSONLSource_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	trips := writeFile(t, dir, "trips.jsonl",
		`{"trip_id":"TRIP_20250401_000001","vehicle_id":"VH_00001","start_ts":"2025-04-01T08:00:00Z","end_ts":"2025-04-01T12:30:00Z"}
{"trip_id":"TRIP_20250401_000002","vehicle_id":"VH_00002","start_ts":"2025-04-01T09:00:00Z","end_ts":"2025-04-01T11:00:00Z","operating_mode":"highway"}

`)
	events := writeFile(t, dir, "events.jsonl",
		`{"event_id":"EV_0000001","trip_id":"TRIP_20250401_000001","vehicle_id":"VH_00001","event_timestamp":"2025-04-01T10:15:00Z","event_type":"RARE_CRITICAL_FAULT","event_severity":"critical","is_rare_event":true,"latency_ms":412.5,"confidence_score":0.31}
`)

	src := JSONLSource{TripsPath: trips, EventsPath: events}
	c, err := Load(context.Background(), src, logging.Default())
	require.NoError(t, err)

	require.Len(t, c.Trips, 2, "blank lines are skipped")
	assert.Equal(t, "VH_00001", c.Trips[0].VehicleID)
	assert.Equal(t, time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC), c.Trips[0].StartTS)
	assert.InDelta(t, 4.5, c.Trips[0].DurationHours(), 1e-9)
	assert.Equal(t, "highway", c.Trips[1].OperatingMode)

	require.Len(t, c.Events, 1)
	ev := c.Events[0]
	assert.Equal(t, models.SeverityCritical, ev.Severity)
	assert.True(t, ev.IsRareEvent)
	assert.InDelta(t, 412.5, ev.LatencyMS, 1e-9)
	assert.InDelta(t, 0.31, ev.ConfidenceScore, 1e-9)
}

func TestJSONLSource_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	trips := writeFile(t, dir, "trips.jsonl",
		`{"trip_id":"TRIP_1","vehicle_id":"VH_00001","start_ts":"2025-04-01T08:00:00Z","end_ts":"2025-04-01T12:00:00Z"}
{not json}
`)

	_, err := JSONLSource{TripsPath: trips}.Trips(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestJSONLSource_MissingFile(t *testing.T) {
	src := JSONLSource{TripsPath: filepath.Join(t.TempDir(), "absent.jsonl")}
	_, err := src.Trips(context.Background())
	require.Error(t, err)
}
