// Package opponent provides external move sources that self-play and the
// evaluation arena can pit against the search.
package opponent

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
)

var (
	// ErrAdapterUnavailable covers every way an opponent can fail to produce
	// a usable move: dead process, timeout, malformed or illegal reply.
	ErrAdapterUnavailable = errors.New("opponent unavailable")
	// ErrMoveCapReached means the opponent has played its per-game quota.
	ErrMoveCapReached = errors.New("opponent move cap reached")
)

// Opponent chooses moves for one game at a time. Instances are not safe for
// concurrent use.
type Opponent interface {
	// NewGame resets per-game state. rng drives any per-game randomisation
	// such as the playing strength.
	NewGame(rng *rand.Rand) error
	ChooseMove(ctx context.Context, pos *game.Position, budget time.Duration) (game.Move, error)
	// Describe names the opponent and its current settings for records.
	Describe() string
}

// Random plays a uniformly random legal move. It is the baseline opponent
// when no engine binary is available.
type Random struct {
	rng *rand.Rand
}

var _ Opponent = (*Random)(nil)

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) NewGame(rng *rand.Rand) error {
	if rng != nil {
		r.rng = rand.New(rand.NewSource(rng.Int63()))
	}
	return nil
}

func (r *Random) ChooseMove(ctx context.Context, pos *game.Position, budget time.Duration) (game.Move, error) {
	if err := ctx.Err(); err != nil {
		return game.NoMove, err
	}
	legal := rules.Standard{}.LegalMoves(pos)
	if len(legal) == 0 {
		return game.NoMove, errors.New("no legal moves")
	}
	return legal[r.rng.Intn(len(legal))], nil
}

func (r *Random) Describe() string { return "random" }
