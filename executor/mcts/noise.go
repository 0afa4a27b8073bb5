package mcts

import (
	"math"
	"math/rand"
)

// applyRootNoise mixes Dirichlet noise into the root's children priors:
// P' = (1-frac)*P + frac*eta. Only the root is touched.
func (m *MCTS) applyRootNoise(t *Tree) {
	if t.noised || !m.Config.Dirichlet || m.Config.DirichletFrac <= 0 {
		return
	}
	first, n := t.Children(0)
	if n < 2 {
		return
	}
	eta := sampleDirichlet(m.rng(), m.Config.DirichletAlpha, int(n))
	frac := float32(m.Config.DirichletFrac)
	for i := int32(0); i < n; i++ {
		c := &t.nodes[first+i]
		c.PriorProb = (1-frac)*c.PriorProb + frac*float32(eta[i])
	}
	t.noised = true
}

func sampleDirichlet(rng *rand.Rand, alpha float64, n int) []float64 {
	out := make([]float64, n)
	var sum float64
	for i := range out {
		out[i] = sampleGamma(rng, alpha)
		sum += out[i]
	}
	if sum <= 0 {
		for i := range out {
			out[i] = 1 / float64(n)
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// sampleGamma draws from Gamma(alpha, 1) with Marsaglia and Tsang's method.
// Shapes below 1 use the boost Gamma(alpha+1) * U^(1/alpha).
func sampleGamma(rng *rand.Rand, alpha float64) float64 {
	if alpha <= 0 {
		return 0
	}
	if alpha < 1 {
		u := rng.Float64()
		return sampleGamma(rng, alpha+1) * math.Pow(u, 1/alpha)
	}
	d := alpha - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		var x, v float64
		for v <= 0 {
			x = rng.NormFloat64()
			v = 1 + c*x
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
