package simulator

import (
	"math"
	"time"
)

const ramCPUCorrelation = 0.3

// DayFactor scales load by the hour of day: busier during office hours,
// quieter overnight.
func DayFactor(t time.Time) float64 {
	switch h := t.Hour(); {
	case h >= 9 && h <= 17:
		return 1.2
	case h >= 0 && h <= 6:
		return 0.7
	default:
		return 1.0
	}
}

// CPU generates a cpu reading around baseline shaped by the time of day.
func CPU(rng Rand, baseline, variance float64, now time.Time) float64 {
	cpu := baseline*DayFactor(now) + gauss(rng, math.Abs(variance)/3)
	return clampPercent(cpu)
}

// RAM generates a ram reading partially correlated with the cpu reading.
func RAM(rng Rand, baseline, variance, cpuUsage float64) float64 {
	ram := baseline + (cpuUsage-baseline)*ramCPUCorrelation + gauss(rng, math.Abs(variance)/3)
	return clampPercent(ram)
}
