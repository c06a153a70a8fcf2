package simulator

import (
	"math/rand"
	"time"
)

// Rand is the random source the simulator draws from. *rand.Rand satisfies it.
//
// Not safe for concurrent use unless the implementation says otherwise.
type Rand interface {
	Float64() float64
	NormFloat64() float64
}

// NewRand returns a seeded source. A zero seed selects a time-based seed.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// uniform draws from [lo, hi).
func uniform(rng Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// gauss draws from N(0, sd).
func gauss(rng Rand, sd float64) float64 {
	return rng.NormFloat64() * sd
}
