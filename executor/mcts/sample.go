package mcts

import (
	"math"
	"math/rand"
)

// MinTemperature is the threshold below which sampling collapses to arg-max.
const MinTemperature = 1e-3

// Sample draws an index from dist sharpened by temperature: index i is chosen
// with probability proportional to dist[i]^(1/temperature). Temperatures below
// MinTemperature, or a nil rng, pick the arg-max with ties going to the lowest
// index. Returns -1 for an empty distribution.
func Sample(dist []float32, temperature float64, rng *rand.Rand) int {
	if len(dist) == 0 {
		return -1
	}
	if temperature < MinTemperature || rng == nil {
		return argmax(dist)
	}

	weights := sharpen(dist, temperature)
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) {
		return argmax(dist)
	}

	r := rng.Float64() * sum
	last := -1
	var cumulative float64
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		last = i
		if r < cumulative {
			return i
		}
	}
	// rounding fallback
	return last
}

// sharpen returns dist[i]^(1/temperature) computed in log space relative to
// the maximum, so small temperatures do not underflow.
func sharpen(dist []float32, temperature float64) []float64 {
	maxLog := math.Inf(-1)
	for _, p := range dist {
		if p > 0 {
			maxLog = math.Max(maxLog, math.Log(float64(p)))
		}
	}
	out := make([]float64, len(dist))
	if math.IsInf(maxLog, -1) {
		return out
	}
	for i, p := range dist {
		if p > 0 {
			out[i] = math.Exp((math.Log(float64(p)) - maxLog) / temperature)
		}
	}
	return out
}

func argmax(dist []float32) int {
	best := 0
	for i := 1; i < len(dist); i++ {
		if dist[i] > dist[best] {
			best = i
		}
	}
	return best
}
