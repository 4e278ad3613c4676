package synth

import (
	"math"
	"math/rand/v2"
)

// uniformInt draws an integer from [low, high). Degenerate ranges yield low.
func uniformInt(rng *rand.Rand, low, high int) int {
	if high <= low {
		return low
	}
	return low + rng.IntN(high-low)
}

// normalRange draws a rounded value from [low, high], roughly normally
// distributed around the middle of the range. The standard normal deviate is
// clipped to ±3 sigma and the ±3 band mapped onto the range.
func normalRange(rng *rand.Rand, low, high float64) float64 {
	v := rng.NormFloat64()
	v = math.Max(-3, math.Min(3, v))

	scaled := v*(high-low)/6 + low + (high-low)/2
	return math.Round(scaled)
}
