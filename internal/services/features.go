package services

import (
	"math/rand/v2"
	"sync"
)

// FeatureSource supplies the temperature and humidity paired with each gas
// reading. The channel only carries gas, so the default source is synthetic.
type FeatureSource func() (temperature, humidity float64)

// SyntheticFeatures draws temperature from U[20,30] and humidity from U[40,70].
// A nil rng uses the global source.
func SyntheticFeatures(rng *rand.Rand) FeatureSource {
	var mu sync.Mutex
	return func() (float64, float64) {
		if rng == nil {
			return uniform(rand.Float64, 20, 30), uniform(rand.Float64, 40, 70)
		}
		mu.Lock()
		defer mu.Unlock()
		return uniform(rng.Float64, 20, 30), uniform(rng.Float64, 40, 70)
	}
}

// FixedFeatures always returns the same values
func FixedFeatures(temperature, humidity float64) FeatureSource {
	return func() (float64, float64) { return temperature, humidity }
}

func uniform(next func() float64, lo, hi float64) float64 {
	return lo + next()*(hi-lo)
}
