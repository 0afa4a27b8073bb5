package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
)

// Options configures one self-play game.
type Options struct {
	GameID string
	Source string

	Simulations int
	// MaxPlies caps the game length; a game that reaches it is a draw.
	// Zero means no cap.
	MaxPlies int
	MCTS     mcts.Config
	Schedule TemperatureSchedule

	Evaluator mcts.Evaluator
	// Rules defaults to rules.Standard.
	Rules rules.Rules
	// Rng drives every random choice in the game. Nil seeds from the clock.
	Rng *rand.Rand

	// Start, when set, is the first position. Otherwise one of StartFENs is
	// chosen uniformly, falling back to the standard start.
	Start     *game.Position
	StartFENs []string

	// Opponent, when set, takes one colour in a fraction OpponentGames of
	// games and moves on a fraction OpponentPlies of that colour's plies.
	// An OpponentPlies of zero means every ply.
	Opponent       opponent.Opponent
	OpponentGames  float64
	OpponentPlies  float64
	OpponentBudget time.Duration

	Logger  zerolog.Logger
	Verbose bool
	// OnPly is called after each ply is recorded.
	OnPly func(Ply)
	// OnSearch, when set, sees the search tree behind every ply before the
	// move is played. The tree is nil when the root had a single legal move.
	OnSearch func(ply int, tree *mcts.Tree)
}

func DefaultOptions() Options {
	return Options{
		Source:      "selfplay",
		Simulations: 800,
		MaxPlies:    512,
		MCTS:        mcts.DefaultConfig(),
		Schedule:    DefaultSchedule(),
		Logger:      zerolog.Nop(),
	}
}

// opponentSeat tracks the external opponent within one game.
type opponentSeat struct {
	opp    opponent.Opponent
	color  game.Color
	active bool
	// failed is set once the opponent errors; its remaining plies are played
	// by the search and flagged degraded.
	failed bool
}

func (s *opponentSeat) owns(pos *game.Position) bool {
	return s != nil && pos.Turn() == s.color
}

// PlayGame plays one game to a terminal position or the ply cap.
//
// Evaluator failures abort the game and are returned wrapped. Opponent
// failures never abort: the search's move is played and the ply is flagged
// degraded.
func PlayGame(ctx context.Context, opts Options) (*GameRecord, error) {
	if opts.Evaluator == nil {
		return nil, errors.New("selfplay: evaluator is required")
	}
	r := opts.Rules
	if r == nil {
		r = rules.Standard{}
	}
	rng := opts.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Simulations <= 0 {
		opts.Simulations = 1
	}
	if opts.GameID == "" {
		opts.GameID = uuid.NewString()
	}
	if opts.Source == "" {
		opts.Source = "selfplay"
	}
	log := opts.Logger.With().Str("game", opts.GameID).Logger()

	pos, err := startPosition(opts, rng)
	if err != nil {
		return nil, err
	}

	rec := &GameRecord{
		ID:        opts.GameID,
		Source:    opts.Source,
		Plies:     make([]Ply, 0, 128),
		StartedAt: time.Now(),
	}

	seat := seatOpponent(opts, rng, log)
	if seat != nil {
		rec.HasOpponent = true
		rec.OpponentColor = seat.color
		rec.Opponent = seat.opp.Describe()
	}

	search := mcts.New(opts.MCTS, opts.Evaluator, r, rand.New(rand.NewSource(rng.Int63())))
	plyFraction := opts.OpponentPlies
	if plyFraction <= 0 {
		plyFraction = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status := r.Status(pos)
		if status.Terminal() {
			rec.Status = status
			break
		}
		if opts.MaxPlies > 0 && len(rec.Plies) >= opts.MaxPlies {
			rec.Status = status
			rec.MoveLimit = true
			break
		}

		ply := len(rec.Plies)
		stats, err := search.Search(ctx, pos, opts.Simulations)
		if stats == nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("game %s ply %d: %w", opts.GameID, ply, err)
		}
		if err != nil {
			log.Warn().Err(err).Int("ply", ply).Msg("search discarded simulations")
		}
		if opts.OnSearch != nil {
			opts.OnSearch(ply, search.Tree())
		}

		idx := mcts.Sample(stats.VisitShares(), opts.Schedule.At(ply), rng)
		played := Ply{
			Position: pos,
			Stats:    stats,
			Move:     stats.Moves[idx],
			Actor:    ActorMCTS,
		}

		if seat.owns(pos) {
			switch {
			case seat.failed:
				played.Degraded = true
			case seat.active && rng.Float64() < plyFraction:
				m, err := seat.opp.ChooseMove(ctx, pos, opts.OpponentBudget)
				switch {
				case err == nil:
					played.Move = m
					played.Actor = ActorOpponent
				case ctx.Err() != nil:
					return nil, ctx.Err()
				case errors.Is(err, opponent.ErrMoveCapReached):
					seat.active = false
				default:
					log.Warn().Err(err).Int("ply", ply).Str("opponent", seat.opp.Describe()).
						Msg("opponent failed; search plays its remaining moves")
					seat.active = false
					seat.failed = true
					played.Degraded = true
				}
			}
		}

		if opts.Verbose {
			logPly(log, played)
		}

		next, err := r.Apply(pos, played.Move)
		if err != nil {
			return nil, fmt.Errorf("game %s ply %d: %w", opts.GameID, ply, err)
		}
		rec.Plies = append(rec.Plies, played)
		if opts.OnPly != nil {
			opts.OnPly(played)
		}
		search.Advance(played.Move)
		pos = next
	}

	rec.Final = pos
	rec.Result = rec.Status.Value()
	rec.FinishedAt = time.Now()

	log.Debug().
		Int("plies", len(rec.Plies)).
		Str("termination", rec.Termination()).
		Float32("white_result", rec.WhiteResult()).
		Int("degraded", rec.DegradedPlies()).
		Dur("elapsed", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("game finished")
	return rec, nil
}

func startPosition(opts Options, rng *rand.Rand) (*game.Position, error) {
	if opts.Start != nil {
		return opts.Start, nil
	}
	if len(opts.StartFENs) == 0 {
		return game.StartPosition(), nil
	}
	fen := opts.StartFENs[rng.Intn(len(opts.StartFENs))]
	pos, err := game.ParseFEN(fen)
	if err != nil {
		return nil, fmt.Errorf("start position: %w", err)
	}
	return pos, nil
}

// seatOpponent decides whether the opponent plays this game and with which
// colour. A failed NewGame leaves the seat taken but failed.
func seatOpponent(opts Options, rng *rand.Rand, log zerolog.Logger) *opponentSeat {
	if opts.Opponent == nil || opts.OpponentGames <= 0 {
		return nil
	}
	if rng.Float64() >= opts.OpponentGames {
		return nil
	}
	seat := &opponentSeat{opp: opts.Opponent, color: game.Color(rng.Intn(2)), active: true}
	if err := seat.opp.NewGame(rng); err != nil {
		log.Warn().Err(err).Msg("opponent unavailable for this game")
		seat.active = false
		seat.failed = true
	}
	return seat
}

// logPly prints the board and a per-move breakdown of the root statistics,
// most visited first.
func logPly(log zerolog.Logger, p Ply) {
	s := p.Stats
	order := make([]int, len(s.Moves))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s.Visits[order[a]] > s.Visits[order[b]] })
	if len(order) > 5 {
		order = order[:5]
	}

	total := s.TotalVisits()
	per := make([]string, 0, len(order))
	for _, i := range order {
		pct := float32(0)
		if total > 0 {
			pct = float32(s.Visits[i]) / float32(total) * 100
		}
		q := float32(0)
		if i < len(s.Q) {
			q = s.Q[i]
		}
		pr := float32(0)
		if i < len(s.Priors) {
			pr = s.Priors[i]
		}
		per = append(per, fmt.Sprintf("%s: N=%d (%.1f%%) Q=%.3f P=%.3f", s.Moves[i], s.Visits[i], pct, q, pr))
	}

	log.Info().
		Int("ply", p.Position.Ply()).
		Str("fen", p.Position.FEN()).
		Str("move", p.Move.UCI()).
		Str("actor", string(p.Actor)).
		Bool("degraded", p.Degraded).
		Float32("root_value", s.RootValue).
		Msg("\n" + RenderBoard(p.Position, termenv.Ascii) + strings.Join(per, " | "))
}
