package mcts

import (
	"context"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
)

// Node is one position in the search tree. Nodes live in a Tree arena and
// refer to each other by index; a node's children occupy a contiguous range.
//
// ValueSum is accumulated from the perspective of the player who moved into
// the node, so a parent picks the child with the highest Q.
type Node struct {
	Move       game.Move
	PriorProb  float32
	VisitCount int
	ValueSum   float32

	// Position is computed the first time the node is selected.
	Position   *game.Position
	Status     rules.Status
	IsExpanded bool

	parent      int32
	firstChild  int32
	numChildren int32
}

// Q is the mean value, 0 for unvisited nodes.
func (n *Node) Q() float32 {
	if n.VisitCount == 0 {
		return 0
	}
	return n.ValueSum / float32(n.VisitCount)
}

// Tree is an index arena of nodes; index 0 is the root.
type Tree struct {
	nodes  []Node
	noised bool
}

func newTree(root *game.Position, status rules.Status) *Tree {
	t := &Tree{nodes: make([]Node, 1, 256)}
	t.nodes[0] = Node{Move: game.NoMove, PriorProb: 1, Position: root, Status: status, parent: -1}
	return t
}

func (t *Tree) Root() *Node { return &t.nodes[0] }

// Node returns the node at index i. The pointer is invalidated by the next
// expansion.
func (t *Tree) Node(i int32) *Node { return &t.nodes[i] }

func (t *Tree) Len() int { return len(t.nodes) }

// Children returns the index range [first, first+n) of i's children.
func (t *Tree) Children(i int32) (first, n int32) {
	return t.nodes[i].firstChild, t.nodes[i].numChildren
}

// reroot copies the subtree under idx into a fresh arena so the rest of the
// old tree can be collected.
func (t *Tree) reroot(idx int32) *Tree {
	out := &Tree{nodes: make([]Node, 0, len(t.nodes))}
	root := t.nodes[idx]
	root.parent = -1
	out.nodes = append(out.nodes, root)

	// out.nodes[k] is the copy of t.nodes[olds[k]].
	olds := []int32{idx}
	for k := 0; k < len(olds); k++ {
		old := &t.nodes[olds[k]]
		if old.numChildren == 0 {
			continue
		}
		first := int32(len(out.nodes))
		for c := old.firstChild; c < old.firstChild+old.numChildren; c++ {
			child := t.nodes[c]
			child.parent = int32(k)
			out.nodes = append(out.nodes, child)
			olds = append(olds, c)
		}
		out.nodes[k].firstChild = first
	}
	return out
}

// Config holds MCTS configuration.
type Config struct {
	Cpuct float32

	// Root exploration noise.
	Dirichlet      bool
	DirichletAlpha float64
	DirichletFrac  float64

	// PolicyTemperature shapes the returned policy target. Zero is treated
	// as 1, values below MinTemperature give the arg-max one-hot.
	PolicyTemperature float64

	// ReuseTree keeps the subtree of the played move between searches.
	ReuseTree bool
}

func DefaultConfig() Config {
	return Config{
		Cpuct:             1.25,
		Dirichlet:         true,
		DirichletAlpha:    0.3,
		DirichletFrac:     0.25,
		PolicyTemperature: 1,
	}
}

// Prediction is the evaluator's view of a position: a probability vector over
// the move vocabulary and a value in [-1, 1] for the side to move.
type Prediction struct {
	Policy []float32
	Value  float32
}

// Evaluator scores positions. Implementations must be safe for concurrent use
// when shared between games.
type Evaluator interface {
	Evaluate(ctx context.Context, in *convert.Encoded) (Prediction, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, in *convert.Encoded) (Prediction, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, in *convert.Encoded) (Prediction, error) {
	return f(ctx, in)
}
