package inference

import (
	"context"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/game"
)

// Uniform spreads policy mass evenly over the vocabulary and scores every
// position as even. Search renormalises over legal moves, so it plays like a
// random mover guided only by terminal results. Used when no model is loaded.
type Uniform struct{}

var _ mcts.Evaluator = Uniform{}

var uniformPolicy = func() []float32 {
	p := make([]float32, game.VocabSize)
	for i := game.NumReserved; i < game.VocabSize; i++ {
		p[i] = 1 / float32(game.VocabSize-game.NumReserved)
	}
	return p
}()

func (Uniform) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return mcts.Prediction{}, err
	}
	policy := make([]float32, game.VocabSize)
	copy(policy, uniformPolicy)
	return mcts.Prediction{Policy: policy}, nil
}
