package simulator

import (
	"testing"
	"time"

	"fleetsim/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)

func TestNewStressParams_Windows(t *testing.T) {
	p := NewStressParams(t0, 100*time.Second, 1.0, 30, 40)

	assert.Equal(t, t0.Add(15*time.Second), p.WarmupEnd)
	assert.Equal(t, t0.Add(85*time.Second), p.PlateauEnd)
	assert.Equal(t, t0.Add(100*time.Second), p.End)
}

func TestNewStressParams_TruncatesToSeconds(t *testing.T) {
	p := NewStressParams(t0, 10*time.Second, 1.0, 30, 40)

	// 15% of 10s is 1.5s, truncated to 1s.
	assert.Equal(t, t0.Add(time.Second), p.WarmupEnd)
	assert.Equal(t, t0.Add(9*time.Second), p.PlateauEnd)
}

func TestStressTargets_Capped(t *testing.T) {
	cpu, ram := StressTargets(models.StressParams{BaselineCPU: 30, BaselineRAM: 40, Intensity: 1})
	assert.Equal(t, 90.0, cpu)
	assert.Equal(t, 75.0, ram)

	cpu, ram = StressTargets(models.StressParams{BaselineCPU: 50, BaselineRAM: 70, Intensity: 2})
	assert.Equal(t, 95.0, cpu)
	assert.Equal(t, 90.0, ram)

	cpu, ram = StressTargets(models.StressParams{BaselineCPU: 10, BaselineRAM: 10, Intensity: -5})
	assert.Equal(t, 0.0, cpu)
	assert.Equal(t, 0.0, ram)
}

func TestStressLoad_Phases(t *testing.T) {
	rng := NewRand(3)
	p := NewStressParams(t0, 100*time.Second, 1.0, 30, 40)

	cpu, ram, ok := StressLoad(rng, p, t0)
	require.True(t, ok)
	assert.InDelta(t, 30.0, cpu, 1e-9)
	assert.InDelta(t, 40.0, ram, 1e-9)

	cpu, ram, ok = StressLoad(rng, p, t0.Add(7500*time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 60.0, cpu, 1e-9)
	assert.InDelta(t, 57.5, ram, 1e-9)

	for i := 0; i < 100; i++ {
		cpu, ram, ok = StressLoad(rng, p, t0.Add(50*time.Second))
		require.True(t, ok)
		assert.InDelta(t, 90.0, cpu, 3.0)
		assert.InDelta(t, 75.0, ram, 2.0)
	}

	cpu, ram, ok = StressLoad(rng, p, t0.Add(92500*time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 60.0, cpu, 1e-9)
	assert.InDelta(t, 57.5, ram, 1e-9)

	_, _, ok = StressLoad(rng, p, t0.Add(100*time.Second))
	assert.False(t, ok)
}

func TestStressLoad_ZeroLengthWindows(t *testing.T) {
	rng := NewRand(3)
	// 5s runs have 0s warmup and cooldown once truncated.
	p := NewStressParams(t0, 5*time.Second, 1.0, 30, 40)
	require.Equal(t, p.Start, p.WarmupEnd)
	require.Equal(t, p.End, p.PlateauEnd)

	assert.Equal(t, PhasePlateau, PhaseAt(p, t0))

	cpu, ram, ok := StressLoad(rng, p, t0)
	require.True(t, ok)
	assert.InDelta(t, 90.0, cpu, 3.0)
	assert.InDelta(t, 75.0, ram, 2.0)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 1.0, progress(0, 0))
	assert.Equal(t, 1.0, progress(time.Second, -time.Second))
	assert.Equal(t, 0.5, progress(5*time.Second, 10*time.Second))
	assert.Equal(t, 1.0, progress(20*time.Second, 10*time.Second))
	assert.Equal(t, 0.0, progress(-time.Second, 10*time.Second))
}

func TestPhaseAt(t *testing.T) {
	p := NewStressParams(t0, 100*time.Second, 1.0, 30, 40)

	assert.Equal(t, PhaseWarmup, PhaseAt(p, t0.Add(5*time.Second)))
	assert.Equal(t, PhasePlateau, PhaseAt(p, t0.Add(15*time.Second)))
	assert.Equal(t, PhasePlateau, PhaseAt(p, t0.Add(50*time.Second)))
	assert.Equal(t, PhaseCooldown, PhaseAt(p, t0.Add(85*time.Second)))
	assert.Equal(t, PhaseCooldown, PhaseAt(p, t0.Add(98*time.Second)))
	assert.Equal(t, PhaseDone, PhaseAt(p, t0.Add(100*time.Second)))
}
