package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fleetsim/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFleet struct {
	ticks  atomic.Int32
	checks atomic.Int32
}

func (f *countingFleet) TickAll(context.Context) ([]models.MetricsSnapshot, error) {
	f.ticks.Add(1)
	return nil, nil
}

func (f *countingFleet) CheckAlerts(context.Context) ([]models.Alert, error) {
	f.checks.Add(1)
	return nil, errors.New("store unavailable")
}

func TestManager_RunsJobsUntilStopped(t *testing.T) {
	fleet := &countingFleet{}
	m := NewManager(context.Background())
	m.Register(NewTickJob(10*time.Millisecond, fleet))
	m.Register(NewAlertJob(10*time.Millisecond, fleet))
	m.Register(nil)

	m.Start()
	m.Start()

	require.Eventually(t, func() bool {
		return fleet.ticks.Load() >= 3 && fleet.checks.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "failing jobs keep running")

	m.Stop()
	m.Wait()

	after := fleet.ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fleet.ticks.Load())
}

func TestPruneJob(t *testing.T) {
	var cutoff time.Time
	job := NewPruneJob(time.Hour, 24*time.Hour, func(_ context.Context, before time.Time) (int64, error) {
		cutoff = before
		return 5, nil
	})

	require.NoError(t, job.Run(context.Background()))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)
	assert.Equal(t, "prune-history", job.Name())
}
