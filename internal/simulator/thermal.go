package simulator

import "math"

// TargetTemperature maps a sustained cpu load to its steady-state
// temperature: idle at 0%, max at 100%, linear in between.
func TargetTemperature(cpuLoad, idle, max float64) float64 {
	load := clamp(cpuLoad, 0, 100) / 100
	return clamp(idle+(max-idle)*load, math.Min(idle, max), math.Max(idle, max))
}

// Cool moves current down toward target by a first-order lag step.
// The step never crosses target.
func Cool(current, target, rate, dtSeconds float64) float64 {
	if current <= target {
		return current
	}
	next := current - (current-target)*stepFactor(rate, dtSeconds)
	return math.Max(next, target)
}

// Heat is the mirror of Cool.
func Heat(current, target, rate, dtSeconds float64) float64 {
	if current >= target {
		return current
	}
	next := current + (target-current)*stepFactor(rate, dtSeconds)
	return math.Min(next, target)
}

// Integrate heats or cools current toward target depending on the sign of
// the gap.
func Integrate(current, target, heatingRate, coolingRate, dtSeconds float64) float64 {
	if current < target {
		return Heat(current, target, heatingRate, dtSeconds)
	}
	return Cool(current, target, coolingRate, dtSeconds)
}

// rates are per minute
func stepFactor(rate, dtSeconds float64) float64 {
	f := rate * (dtSeconds / 60)
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	return math.Min(f, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func clampPercent(v float64) float64 {
	return clamp(v, 0, 100)
}
