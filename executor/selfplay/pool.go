package selfplay

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/brensch/chesszero/executor/opponent"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"
)

// PoolStats are live counters for a running pool. All fields are safe to read
// while the pool runs.
type PoolStats struct {
	Started   atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
	Plies     atomic.Int64
	Degraded  atomic.Int64
	// Outcomes of completed games from White's point of view.
	WhiteWins atomic.Int64
	BlackWins atomic.Int64
	Draws     atomic.Int64
}

// PoolOptions configures RunPool.
type PoolOptions struct {
	Workers int
	// Games is the total number of games to play. Zero plays until the
	// context is cancelled.
	Games int
	// Game is the per-game template. GameID, Rng and Opponent are set by the
	// pool for every game.
	Game Options
	// NewOpponent, when set, builds one opponent per worker. Opponents are
	// never shared between workers and are closed when the worker exits if
	// they implement io.Closer.
	NewOpponent func(worker int) (opponent.Opponent, error)
	Stats       *PoolStats
	Logger      zerolog.Logger
}

// RunPool plays games on Workers goroutines and hands every finished game to
// sink. Calls to sink are serialised. A game that fails is logged and counted
// and the worker moves on; only a sink error stops the pool early.
//
// Cancelling ctx aborts games in flight. Games that finished before the
// cancellation have already reached sink, and RunPool then returns nil.
func RunPool(ctx context.Context, opts PoolOptions, sink func(*GameRecord) error) (*PoolStats, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	stats := opts.Stats
	if stats == nil {
		stats = &PoolStats{}
	}

	var claimed atomic.Int64
	var sinkMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		worker := w
		g.Go(func() error {
			log := opts.Logger.With().Int("worker", worker).Logger()

			var opp opponent.Opponent
			if opts.NewOpponent != nil {
				o, err := opts.NewOpponent(worker)
				if err != nil {
					log.Warn().Err(err).Msg("opponent unavailable; worker plays pure self-play")
				} else {
					opp = o
				}
			}
			if c, ok := opp.(io.Closer); ok {
				defer c.Close()
			}

			for {
				if gctx.Err() != nil {
					return nil
				}
				if opts.Games > 0 && claimed.Add(1) > int64(opts.Games) {
					return nil
				}

				gameOpts := opts.Game
				gameOpts.GameID = uuid.NewString()
				gameOpts.Rng = rand.New(rand.NewSource(int64(frand.Uint64n(1 << 62))))
				gameOpts.Opponent = opp
				gameOpts.Logger = log
				onPly := opts.Game.OnPly
				gameOpts.OnPly = func(p Ply) {
					stats.Plies.Add(1)
					if p.Degraded {
						stats.Degraded.Add(1)
					}
					if onPly != nil {
						onPly(p)
					}
				}

				stats.Started.Add(1)
				rec, err := PlayGame(gctx, gameOpts)
				if err != nil {
					if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
						return nil
					}
					stats.Failed.Add(1)
					log.Warn().Err(err).Str("game", gameOpts.GameID).Msg("game failed")
					continue
				}

				stats.Completed.Add(1)
				switch res := rec.WhiteResult(); {
				case res > 0:
					stats.WhiteWins.Add(1)
				case res < 0:
					stats.BlackWins.Add(1)
				default:
					stats.Draws.Add(1)
				}

				sinkMu.Lock()
				err = sink(rec)
				sinkMu.Unlock()
				if err != nil {
					return err
				}
			}
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}
	return stats, err
}
