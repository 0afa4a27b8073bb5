package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
)

// MCTS holds the search context for one game. It is not safe for concurrent
// use; run one per game and share the Evaluator instead.
type MCTS struct {
	Config    Config
	Evaluator Evaluator
	Rules     rules.Rules
	// Rng drives root noise. A nil Rng is seeded from the clock on first use.
	Rng *rand.Rand

	tree      *Tree
	path      []int32
	evalCalls int
}

func New(cfg Config, ev Evaluator, r rules.Rules, rng *rand.Rand) *MCTS {
	return &MCTS{Config: cfg, Evaluator: ev, Rules: r, Rng: rng}
}

func (m *MCTS) rng() *rand.Rand {
	if m.Rng == nil {
		m.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return m.Rng
}

// Tree returns the tree built by the last Search, or nil.
func (m *MCTS) Tree() *Tree { return m.tree }

// Search runs up to simulations simulations from root and returns the root
// statistics.
//
// A simulation that hits ErrIllegalMove while applying a child move is
// discarded and the search continues; those errors are joined and returned
// alongside valid statistics. Evaluator failures abort the search.
func (m *MCTS) Search(ctx context.Context, root *game.Position, simulations int) (*SearchStatistics, error) {
	legal := m.Rules.LegalMoves(root)
	if len(legal) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLegalMoves, root.FEN())
	}
	if len(legal) == 1 {
		m.tree = nil
		return oneHotStatistics(legal[0]), nil
	}
	if simulations < 1 {
		simulations = 1
	}

	tree := m.rootTree(root)
	m.tree = tree
	m.evalCalls = 0

	var illegal []error
	ran := 0
	for i := 0; i < simulations; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Noise goes in once the root is expanded and before any descent.
		if tree.nodes[0].IsExpanded {
			m.applyRootNoise(tree)
		}

		err := m.simulate(ctx, tree)
		if err != nil {
			if errors.Is(err, rules.ErrIllegalMove) {
				illegal = append(illegal, err)
				continue
			}
			return nil, err
		}
		ran++
	}

	// A search that only expanded the root never descended, so its priors
	// are left clean and the policy target is the evaluator's own.
	stats := m.statistics(tree)
	stats.Simulations = ran
	stats.EvaluatorCalls = m.evalCalls
	return stats, errors.Join(illegal...)
}

// Advance tells the engine which move was played from the last searched root.
// With ReuseTree the matching subtree becomes the next root; otherwise the
// tree is dropped.
func (m *MCTS) Advance(move game.Move) {
	if !m.Config.ReuseTree || m.tree == nil {
		m.tree = nil
		return
	}
	first, n := m.tree.Children(0)
	for c := first; c < first+n; c++ {
		child := &m.tree.nodes[c]
		if child.Move != move {
			continue
		}
		if child.Position == nil {
			break
		}
		m.tree = m.tree.reroot(c)
		return
	}
	m.tree = nil
}

func (m *MCTS) rootTree(root *game.Position) *Tree {
	if m.Config.ReuseTree && m.tree != nil {
		r := m.tree.Root()
		if r.Position != nil && (r.Position == root || r.Position.FEN() == root.FEN()) {
			// Histories can differ for the same FEN, so trust the caller's.
			r.Position = root
			r.Status = rules.Ongoing
			return m.tree
		}
	}
	// The root has legal moves here; whether a draw rule already ended the
	// game is the caller's decision.
	return newTree(root, rules.Ongoing)
}

func (m *MCTS) simulate(ctx context.Context, t *Tree) error {
	path := append(m.path[:0], 0)
	idx := int32(0)

	// Selection
	for {
		node := &t.nodes[idx]
		if !node.IsExpanded || node.Status.Terminal() {
			break
		}
		idx = m.selectChild(t, idx)
		child := &t.nodes[idx]
		if child.Position == nil {
			parent := t.nodes[child.parent].Position
			next, err := m.Rules.Apply(parent, child.Move)
			if err != nil {
				return fmt.Errorf("simulation at %s: %w", parent.FEN(), err)
			}
			child.Position = next
			child.Status = m.Rules.Status(next)
		}
		path = append(path, idx)
	}
	m.path = path

	// Expansion & Evaluation
	leaf := &t.nodes[idx]
	var value float32
	if leaf.Status.Terminal() {
		value = leaf.Status.Value()
	} else {
		v, err := m.expand(ctx, t, idx)
		if err != nil {
			return err
		}
		value = v
	}

	// Backpropagation. value is for the side to move at the leaf; each node
	// stores it for the player who moved into it.
	for i := len(path) - 1; i >= 0; i-- {
		value = -value
		n := &t.nodes[path[i]]
		n.VisitCount++
		n.ValueSum += value
	}
	return nil
}

// selectChild applies PUCT. Ties go to the lowest index.
func (m *MCTS) selectChild(t *Tree, idx int32) int32 {
	parent := &t.nodes[idx]
	sqrtSumN := float32(math.Sqrt(float64(parent.VisitCount)))
	best := int32(-1)
	bestScore := float32(math.Inf(-1))
	for c := parent.firstChild; c < parent.firstChild+parent.numChildren; c++ {
		child := &t.nodes[c]
		// U(s,a) = Q(s,a) + C_puct * P(s,a) * sqrt(sum(N)) / (1 + N)
		u := child.Q() + m.Config.Cpuct*child.PriorProb*sqrtSumN/(1+float32(child.VisitCount))
		if u > bestScore {
			bestScore = u
			best = c
		}
	}
	return best
}

func (m *MCTS) expand(ctx context.Context, t *Tree, idx int32) (float32, error) {
	pos := t.nodes[idx].Position
	in, err := convert.Encode(pos)
	if err != nil {
		return 0, fmt.Errorf("%w: %w: %w", ErrEvaluator, ErrEncoding, err)
	}
	m.evalCalls++
	pred, err := m.Evaluator.Evaluate(ctx, in)
	convert.Release(in)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEvaluator, err)
	}
	if len(pred.Policy) != game.VocabSize {
		return 0, fmt.Errorf("%w: policy has %d entries, want %d", ErrEvaluator, len(pred.Policy), game.VocabSize)
	}
	if math.IsNaN(float64(pred.Value)) {
		return 0, fmt.Errorf("%w: NaN value", ErrEvaluator)
	}

	legal := m.Rules.LegalMoves(pos)
	priors := make([]float32, len(legal))
	var sum float32
	for i, mv := range legal {
		p := pred.Policy[mv]
		if p > 0 && !math.IsInf(float64(p), 0) {
			priors[i] = p
			sum += p
		}
	}
	for i := range priors {
		if sum > 0 {
			priors[i] /= sum
		} else {
			priors[i] = 1 / float32(len(priors))
		}
	}

	first := int32(len(t.nodes))
	for i, mv := range legal {
		t.nodes = append(t.nodes, Node{Move: mv, PriorProb: priors[i], parent: idx})
	}
	node := &t.nodes[idx]
	node.firstChild = first
	node.numChildren = int32(len(legal))
	node.IsExpanded = true

	return clamp(pred.Value, -1, 1), nil
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *MCTS) statistics(t *Tree) *SearchStatistics {
	root := &t.nodes[0]
	first, n := root.firstChild, root.numChildren
	s := &SearchStatistics{
		Moves:  make([]game.Move, n),
		Visits: make([]int, n),
		Priors: make([]float32, n),
		Q:      make([]float32, n),
	}
	for i := int32(0); i < n; i++ {
		c := &t.nodes[first+i]
		s.Moves[i] = c.Move
		s.Visits[i] = c.VisitCount
		s.Priors[i] = c.PriorProb
		s.Q[i] = c.Q()
	}
	temp := m.Config.PolicyTemperature
	if temp == 0 {
		temp = 1
	}
	s.Policy = policyFromVisits(s.Visits, s.Priors, temp)
	s.RootValue = -root.Q()
	return s
}
