package simulator

import (
	"math"
	"time"

	"fleetsim/internal/models"
)

const (
	warmupShare   = 0.15
	cooldownShare = 0.15

	stressCPUGain = 60.0
	stressRAMGain = 35.0
)

type Phase string

const (
	PhaseWarmup   Phase = "warmup"
	PhasePlateau  Phase = "plateau"
	PhaseCooldown Phase = "cooldown"
	PhaseDone     Phase = "done"
)

// stressWindows splits duration into warmup, plateau and cooldown. Warmup
// and cooldown are truncated to whole seconds.
func stressWindows(duration time.Duration) (warmup, plateau, cooldown time.Duration) {
	warmup = time.Duration(float64(duration) * warmupShare).Truncate(time.Second)
	cooldown = time.Duration(float64(duration) * cooldownShare).Truncate(time.Second)
	plateau = duration - warmup - cooldown
	return warmup, plateau, cooldown
}

// NewStressParams builds the breakpoints for a run starting at start.
func NewStressParams(start time.Time, duration time.Duration, intensity, baselineCPU, baselineRAM float64) models.StressParams {
	warmup, plateau, _ := stressWindows(duration)
	return models.StressParams{
		Start:       start,
		WarmupEnd:   start.Add(warmup),
		PlateauEnd:  start.Add(warmup + plateau),
		End:         start.Add(duration),
		Duration:    duration,
		Intensity:   intensity,
		BaselineCPU: baselineCPU,
		BaselineRAM: baselineRAM,
	}
}

// StressTargets returns the plateau levels for the captured baseline.
func StressTargets(p models.StressParams) (cpu, ram float64) {
	cpu = clampPercent(math.Min(models.DefaultStressCPUCap, p.BaselineCPU+p.Intensity*stressCPUGain))
	ram = clampPercent(math.Min(models.DefaultStressRAMCap, p.BaselineRAM+p.Intensity*stressRAMGain))
	return cpu, ram
}

// PhaseAt reports which phase of the run now falls into.
func PhaseAt(p models.StressParams, now time.Time) Phase {
	switch {
	case !now.Before(p.End):
		return PhaseDone
	case now.Before(p.WarmupEnd):
		return PhaseWarmup
	case now.Before(p.PlateauEnd):
		return PhasePlateau
	default:
		return PhaseCooldown
	}
}

// StressLoad evaluates the three-phase profile at now. ok is false once
// the run has ended.
func StressLoad(rng Rand, p models.StressParams, now time.Time) (cpu, ram float64, ok bool) {
	targetCPU, targetRAM := StressTargets(p)
	baseCPU, baseRAM := clampPercent(p.BaselineCPU), clampPercent(p.BaselineRAM)

	switch PhaseAt(p, now) {
	case PhaseWarmup:
		k := progress(now.Sub(p.Start), p.WarmupEnd.Sub(p.Start))
		cpu = baseCPU + (targetCPU-baseCPU)*k
		ram = baseRAM + (targetRAM-baseRAM)*k
	case PhasePlateau:
		cpu = targetCPU + uniform(rng, -3, 3)
		ram = targetRAM + uniform(rng, -2, 2)
	case PhaseCooldown:
		k := progress(now.Sub(p.PlateauEnd), p.End.Sub(p.PlateauEnd))
		cpu = targetCPU - (targetCPU-baseCPU)*k
		ram = targetRAM - (targetRAM-baseRAM)*k
	default:
		return 0, 0, false
	}
	return clampPercent(cpu), clampPercent(ram), true
}

// progress is elapsed/window in [0,1]; an empty window counts as complete.
func progress(elapsed, window time.Duration) float64 {
	if window <= 0 {
		return 1.0
	}
	return clamp(float64(elapsed)/float64(window), 0, 1)
}
