package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTransitions(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	run := Run{State: RunScheduled}

	require.NoError(t, run.Transition(RunRunning, start))
	require.NoError(t, run.Transition(RunRetrying, start.Add(time.Second)))
	require.NoError(t, run.Transition(RunRunning, start.Add(time.Minute)))
	require.NoError(t, run.Transition(RunSucceeded, start.Add(2*time.Minute)))

	assert.Equal(t, 2, run.Attempts)
	require.NotNil(t, run.StartedAt)
	assert.True(t, start.Equal(*run.StartedAt))
	require.NotNil(t, run.FinishedAt)
	assert.True(t, run.State.Terminal())

	err := run.Transition(RunRunning, start.Add(time.Hour))
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.False(t, CanTransition(RunScheduled, RunSucceeded))
	assert.False(t, CanTransition(RunRetrying, RunSucceeded))
	assert.True(t, CanTransition(RunRetrying, RunFailedPermanently))
	assert.False(t, CanTransition(RunFailedPermanently, RunRunning))
}
