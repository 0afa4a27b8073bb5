// Package arena measures a model against an external engine. Games are played
// without exploration noise at a low move temperature and are written out as
// PGN.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/brensch/chesszero/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrUnknownColor is returned for a ModelColor other than white, black or both.
var ErrUnknownColor = errors.New("unknown model colour")

// Match configures a series of games between the model and one opponent.
type Match struct {
	// Label names the opponent in records, e.g. "stockfish skill 5".
	Label     string
	Evaluator mcts.Evaluator
	Opponent  opponent.Opponent
	Rules     rules.Rules

	// ModelColor is "white", "black" or "both" (alternating, white first).
	ModelColor  string
	Games       int
	Simulations int
	MCTS        mcts.Config
	Temperature float64
	// MaxPlies ends a game as a draw.
	MaxPlies       int
	OpponentBudget time.Duration

	// PGNDir, when set, receives one PGN file per game.
	PGNDir string
	Rng    *rand.Rand
	Logger zerolog.Logger
}

func DefaultMatch() Match {
	cfg := mcts.DefaultConfig()
	cfg.Dirichlet = false
	return Match{
		ModelColor:     "both",
		Games:          10,
		Simulations:    800,
		MCTS:           cfg,
		Temperature:    0.2,
		MaxPlies:       200,
		OpponentBudget: 100 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}
}

// Record is a win/loss/draw tally from the model's point of view.
type Record struct {
	Wins, Losses, Draws int
}

func (r Record) Games() int { return r.Wins + r.Losses + r.Draws }

func (r Record) String() string { return fmt.Sprintf("%d-%d-%d", r.Wins, r.Losses, r.Draws) }

func (r *Record) add(score float32) {
	switch {
	case score > 0:
		r.Wins++
	case score < 0:
		r.Losses++
	default:
		r.Draws++
	}
}

// Summary is the outcome of a Match.
type Summary struct {
	Label   string
	Total   Record
	AsWhite Record
	AsBlack Record
	// Aborted counts games the opponent could not finish.
	Aborted int
	Games   []*selfplay.GameRecord
	PGNs    []string
}

// WinRate is the share of finished games the model won, in percent.
func (s *Summary) WinRate() float64 {
	if s.Total.Games() == 0 {
		return 0
	}
	return float64(s.Total.Wins) / float64(s.Total.Games()) * 100
}

func colors(schedule string, n int) ([]game.Color, error) {
	out := make([]game.Color, n)
	for i := range out {
		switch strings.ToLower(schedule) {
		case "white":
			out[i] = game.White
		case "black":
			out[i] = game.Black
		case "both", "":
			out[i] = game.Color(i % 2)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownColor, schedule)
		}
	}
	return out, nil
}

// Play runs the match. An opponent failure aborts that game only; evaluator
// failures and cancellation end the match.
func Play(ctx context.Context, m Match) (*Summary, error) {
	if m.Evaluator == nil || m.Opponent == nil {
		return nil, errors.New("arena: evaluator and opponent are required")
	}
	if m.Rules == nil {
		m.Rules = rules.Standard{}
	}
	if m.Rng == nil {
		m.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if m.Label == "" {
		m.Label = m.Opponent.Describe()
	}
	seats, err := colors(m.ModelColor, m.Games)
	if err != nil {
		return nil, err
	}
	if m.PGNDir != "" {
		if err := os.MkdirAll(m.PGNDir, 0o755); err != nil {
			return nil, fmt.Errorf("create pgn dir: %w", err)
		}
	}

	sum := &Summary{Label: m.Label}
	for round, color := range seats {
		log := m.Logger.With().Int("round", round+1).Str("model", color.String()).Logger()
		rec, err := playOne(ctx, m, color)
		if err != nil {
			if errors.Is(err, opponent.ErrAdapterUnavailable) {
				log.Warn().Err(err).Msg("game aborted")
				sum.Aborted++
				continue
			}
			return sum, err
		}

		score := rec.WhiteResult()
		if color == game.Black {
			score = -score
		}
		sum.Total.add(score)
		if color == game.White {
			sum.AsWhite.add(score)
		} else {
			sum.AsBlack.add(score)
		}
		sum.Games = append(sum.Games, rec)

		result := store.PGNResult(rec.WhiteResult(), true)
		log.Info().Str("result", result).Int("plies", len(rec.Plies)).Str("termination", rec.Termination()).Msg("game finished")

		if m.PGNDir != "" {
			name := fmt.Sprintf("game_%d_%s_%s.pgn", round+1, color, strings.ReplaceAll(result, "/", "_"))
			path := filepath.Join(m.PGNDir, name)
			if err := writePGNFile(path, rec, round+1); err != nil {
				return sum, err
			}
			sum.PGNs = append(sum.PGNs, path)
		}
	}
	return sum, nil
}

func playOne(ctx context.Context, m Match, modelColor game.Color) (*selfplay.GameRecord, error) {
	if err := m.Opponent.NewGame(m.Rng); err != nil {
		return nil, err
	}
	search := mcts.New(m.MCTS, m.Evaluator, m.Rules, rand.New(rand.NewSource(m.Rng.Int63())))
	pos := game.StartPosition()
	rec := &selfplay.GameRecord{
		ID:            uuid.NewString(),
		Source:        "arena",
		Opponent:      m.Label,
		OpponentColor: modelColor.Other(),
		HasOpponent:   true,
		StartedAt:     time.Now(),
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status := m.Rules.Status(pos)
		if status.Terminal() {
			rec.Status = status
			break
		}
		if m.MaxPlies > 0 && len(rec.Plies) >= m.MaxPlies {
			rec.Status = status
			rec.MoveLimit = true
			break
		}

		ply := selfplay.Ply{Position: pos, Actor: selfplay.ActorMCTS}
		if pos.Turn() == modelColor {
			stats, err := search.Search(ctx, pos, m.Simulations)
			if stats == nil {
				return nil, err
			}
			ply.Stats = stats
			ply.Move = stats.Moves[mcts.Sample(stats.VisitShares(), m.Temperature, m.Rng)]
		} else {
			mv, err := m.Opponent.ChooseMove(ctx, pos, m.OpponentBudget)
			if err != nil {
				if errors.Is(err, opponent.ErrMoveCapReached) {
					err = fmt.Errorf("%w: %w", opponent.ErrAdapterUnavailable, err)
				}
				return nil, err
			}
			ply.Move = mv
			ply.Actor = selfplay.ActorOpponent
		}

		next, err := m.Rules.Apply(pos, ply.Move)
		if err != nil {
			return nil, err
		}
		rec.Plies = append(rec.Plies, ply)
		search.Advance(ply.Move)
		pos = next
	}

	rec.Final = pos
	rec.Result = rec.Status.Value()
	rec.FinishedAt = time.Now()
	return rec, nil
}

func writePGNFile(path string, rec *selfplay.GameRecord, round int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create pgn: %w", err)
	}
	row := rec.Archive()
	row.GameID = fmt.Sprint(round)
	if err := store.WritePGN(f, row, [2]string{"GameID", rec.ID}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
