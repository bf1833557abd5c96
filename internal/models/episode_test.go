package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeState_Transitions(t *testing.T) {
	tests := []struct {
		from    EpisodeState
		to      EpisodeState
		allowed bool
	}{
		{StateMonitoring, StateCandidateChange, true},
		{StateMonitoring, StateConfirmedRegression, false},
		{StateMonitoring, StateResolved, false},
		{StateCandidateChange, StateConfirmedRegression, true},
		{StateCandidateChange, StateMonitoring, true},
		{StateCandidateChange, StateResolved, false},
		{StateConfirmedRegression, StateResolved, true},
		{StateConfirmedRegression, StateMonitoring, false},
		{StateResolved, StateMonitoring, false},
		{StateResolved, StateConfirmedRegression, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+" to "+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))

			ep := &RegressionEpisode{State: tt.from}
			err := ep.Transition(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, ep.State)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, ep.State)
			}
		})
	}
}

func TestEpisodeState_Valid(t *testing.T) {
	assert.True(t, StateMonitoring.Valid())
	assert.True(t, StateResolved.Valid())
	assert.False(t, EpisodeState("OPEN").Valid())

	ep := &RegressionEpisode{State: StateMonitoring}
	require.ErrorIs(t, ep.Transition(EpisodeState("OPEN")), ErrInvalidTransition)
}

func TestEpisode_Resolve(t *testing.T) {
	end := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

	t.Run("confirmed episode resolves", func(t *testing.T) {
		ep := &RegressionEpisode{State: StateConfirmedRegression}
		require.NoError(t, ep.Resolve(end))
		assert.Equal(t, StateResolved, ep.State)
		assert.True(t, ep.IsResolved)
		require.NotNil(t, ep.RegressionEndTS)
		assert.Equal(t, end, *ep.RegressionEndTS)
	})

	t.Run("unconfirmed episode cannot resolve", func(t *testing.T) {
		ep := &RegressionEpisode{State: StateCandidateChange}
		require.ErrorIs(t, ep.Resolve(end), ErrInvalidTransition)
		assert.False(t, ep.IsResolved)
		assert.Nil(t, ep.RegressionEndTS)
	})

	t.Run("double resolve is rejected", func(t *testing.T) {
		ep := &RegressionEpisode{State: StateConfirmedRegression}
		require.NoError(t, ep.Resolve(end))
		require.ErrorIs(t, ep.Resolve(end.Add(time.Hour)), ErrAlreadyResolved)
		assert.Equal(t, end, *ep.RegressionEndTS, "the original end timestamp stands")
	})
}

func TestEpisode_RecordDetection(t *testing.T) {
	onset := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	ep := &RegressionEpisode{State: StateConfirmedRegression, RegressionStartTS: onset}

	detected := onset.Add(36 * time.Hour)
	ep.RecordDetection(detected)

	assert.Equal(t, detected, ep.DetectionTS)
	require.NotNil(t, ep.MTTDHours)
	assert.InDelta(t, 36.0, *ep.MTTDHours, 1e-9)
}
