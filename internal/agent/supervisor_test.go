package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoagent/internal/domain"
)

func TestSupervisorStartStop(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, map[string]float64{"BTCUSDT": 50000})
	sup := NewSupervisor(context.Background(), o, testLogger())

	require.NoError(t, sup.Start())
	require.Eventually(t, o.IsRunning, time.Second, 10*time.Millisecond)
	assert.True(t, sup.Running())

	err := sup.Start()
	require.ErrorIs(t, err, domain.ErrAgentRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
	assert.False(t, sup.Running())
	assert.False(t, o.IsRunning())
}

func TestSupervisorStopIdle(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, nil)
	sup := NewSupervisor(context.Background(), o, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}

func TestSupervisorRestart(t *testing.T) {
	eng := &mockEngine{}
	o, _ := newTestOrchestrator(t, eng, map[string]float64{"BTCUSDT": 50000})
	sup := NewSupervisor(context.Background(), o, testLogger())

	require.NoError(t, sup.Start())
	require.Eventually(t, o.IsRunning, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))

	// A stopped supervisor accepts a fresh start.
	require.NoError(t, sup.Start())
	require.Eventually(t, o.IsRunning, time.Second, 10*time.Millisecond)

	// The first run's alert handler must not survive its shutdown: one price
	// move on the restarted agent is evaluated exactly once. ETHUSDT is
	// tracked by default but absent from the fake source, so the poll loop
	// contributes no observations of its own.
	o.deps.Monitor.ObservePrice(ctx, "ETHUSDT", 100, nil)
	o.deps.Monitor.ObservePrice(ctx, "ETHUSDT", 110, nil)
	assert.Equal(t, 1, eng.alertCount())

	require.NoError(t, sup.Stop(ctx))
}
