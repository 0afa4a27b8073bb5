package mcts

import (
	"github.com/brensch/chesszero/game"
)

// SearchStatistics summarises a finished search from the root's point of view.
// The per-move slices are parallel and ordered like the root's children.
type SearchStatistics struct {
	Moves  []game.Move
	Visits []int
	// Priors are the root priors actually used, after noise.
	Priors []float32
	// Q is each child's mean value for the side to move at the root.
	Q []float32
	// Policy is the training target over Moves. It sums to 1.
	Policy []float32

	// RootValue is the search's value estimate for the side to move.
	RootValue      float32
	Simulations    int
	EvaluatorCalls int
}

// Dense expands Policy over the full move vocabulary. Moves that were not
// legal at the root get 0.
func (s *SearchStatistics) Dense() []float32 {
	out := make([]float32, game.VocabSize)
	for i, m := range s.Moves {
		out[m] = s.Policy[i]
	}
	return out
}

// VisitShares is the visit distribution at temperature 1, the usual input
// for move sampling.
func (s *SearchStatistics) VisitShares() []float32 {
	return policyFromVisits(s.Visits, s.Priors, 1)
}

// Best returns the most visited move, ties to the earliest.
func (s *SearchStatistics) Best() game.Move {
	if len(s.Moves) == 0 {
		return game.NoMove
	}
	best := 0
	for i := 1; i < len(s.Visits); i++ {
		if s.Visits[i] > s.Visits[best] {
			best = i
		}
	}
	return s.Moves[best]
}

// Index returns the position of m in Moves, or -1.
func (s *SearchStatistics) Index(m game.Move) int {
	for i, mv := range s.Moves {
		if mv == m {
			return i
		}
	}
	return -1
}

func (s *SearchStatistics) TotalVisits() int {
	total := 0
	for _, v := range s.Visits {
		total += v
	}
	return total
}

// policyFromVisits returns N^(1/T) normalised. With no visits yet (a one
// simulation search only expands the root) the priors stand in for visits.
func policyFromVisits(visits []int, priors []float32, temperature float64) []float32 {
	out := make([]float32, len(visits))
	if len(visits) == 0 {
		return out
	}

	dist := make([]float32, len(visits))
	var total int
	for i, v := range visits {
		dist[i] = float32(v)
		total += v
	}
	if total == 0 {
		copy(dist, priors)
	}

	if temperature < MinTemperature {
		out[argmax(dist)] = 1
		return out
	}

	weights := sharpen(dist, temperature)
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		for i := range out {
			out[i] = 1 / float32(len(out))
		}
		return out
	}
	for i, w := range weights {
		out[i] = float32(w / sum)
	}
	return out
}

func oneHotStatistics(m game.Move) *SearchStatistics {
	return &SearchStatistics{
		Moves:  []game.Move{m},
		Visits: []int{0},
		Priors: []float32{1},
		Q:      []float32{0},
		Policy: []float32{1},
	}
}
