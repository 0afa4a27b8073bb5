package selfplay

import (
	"fmt"
	"time"

	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/brensch/chesszero/store"
)

// Actor names who chose a ply's move.
type Actor string

const (
	ActorMCTS     Actor = "mcts"
	ActorOpponent Actor = "opponent"
)

// TerminationMoveLimit marks games stopped by the ply cap. They score as draws.
const TerminationMoveLimit = "move_limit"

// Ply is one recorded decision. Position is the position before Move.
type Ply struct {
	Position *game.Position
	Stats    *mcts.SearchStatistics
	Move     game.Move
	Actor    Actor
	// Degraded is set when the opponent should have moved but failed and the
	// search's move was played instead.
	Degraded bool
}

// GameRecord is a finished game.
type GameRecord struct {
	ID     string
	Source string
	Plies  []Ply
	Final  *game.Position
	Status rules.Status
	// MoveLimit is set when the game hit the ply cap before a terminal status.
	MoveLimit bool
	// Result is the outcome for the side to move in Final: -1 checkmated,
	// 0 for every kind of draw including the move limit.
	Result float32

	Opponent      string
	OpponentColor game.Color
	HasOpponent   bool

	StartedAt  time.Time
	FinishedAt time.Time
}

// Start returns the position the game began from.
func (r *GameRecord) Start() *game.Position {
	if len(r.Plies) == 0 {
		return r.Final
	}
	return r.Plies[0].Position
}

func (r *GameRecord) Termination() string {
	if r.MoveLimit {
		return TerminationMoveLimit
	}
	return r.Status.String()
}

// WhiteResult is Result seen from White.
func (r *GameRecord) WhiteResult() float32 {
	if r.Final.Turn() == game.White {
		return r.Result
	}
	return -r.Result
}

// DegradedPlies counts plies flagged Degraded.
func (r *GameRecord) DegradedPlies() int {
	n := 0
	for _, p := range r.Plies {
		if p.Degraded {
			n++
		}
	}
	return n
}

// Archive converts the record to its stored form. Root statistics are kept
// sparse over the legal moves.
func (r *GameRecord) Archive() store.GameRow {
	row := store.GameRow{
		GameID:      r.ID,
		Source:      r.Source,
		StartFEN:    r.Start().FEN(),
		Plies:       make([]store.PlyRow, len(r.Plies)),
		Status:      r.Status.String(),
		Termination: r.Termination(),
		Result:      r.WhiteResult(),
		Opponent:    r.Opponent,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	for i, p := range r.Plies {
		pr := store.PlyRow{
			Move:     p.Move.UCI(),
			Actor:    string(p.Actor),
			Degraded: p.Degraded,
		}
		if s := p.Stats; s != nil {
			pr.Moves = make([]int32, len(s.Moves))
			pr.Visits = make([]int32, len(s.Moves))
			pr.Policy = append([]float32(nil), s.Policy...)
			pr.RootValue = s.RootValue
			for j, m := range s.Moves {
				pr.Moves[j] = int32(m)
				pr.Visits[j] = int32(s.Visits[j])
			}
		}
		row.Plies[i] = pr
	}
	return row
}

// Replay rebuilds a GameRecord from its archived form by replaying every move
// through r. The replayed terminal status must match the archived one.
func Replay(row store.GameRow, r rules.Rules) (*GameRecord, error) {
	if r == nil {
		r = rules.Standard{}
	}
	pos := game.StartPosition()
	if row.StartFEN != "" {
		var err error
		if pos, err = game.ParseFEN(row.StartFEN); err != nil {
			return nil, fmt.Errorf("game %s: %w", row.GameID, err)
		}
	}

	rec := &GameRecord{
		ID:         row.GameID,
		Source:     row.Source,
		Plies:      make([]Ply, 0, len(row.Plies)),
		Opponent:   row.Opponent,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
	}
	for i, pr := range row.Plies {
		m, err := game.ParseMove(pr.Move)
		if err != nil {
			return nil, fmt.Errorf("game %s ply %d: %w", row.GameID, i, err)
		}
		if len(pr.Moves) != len(pr.Policy) || len(pr.Moves) != len(pr.Visits) {
			return nil, fmt.Errorf("game %s ply %d: ragged statistics", row.GameID, i)
		}
		stats := &mcts.SearchStatistics{
			Moves:     make([]game.Move, len(pr.Moves)),
			Visits:    make([]int, len(pr.Moves)),
			Policy:    append([]float32(nil), pr.Policy...),
			RootValue: pr.RootValue,
		}
		for j, mv := range pr.Moves {
			stats.Moves[j] = game.Move(mv)
			stats.Visits[j] = int(pr.Visits[j])
		}
		stats.Simulations = stats.TotalVisits()

		actor := Actor(pr.Actor)
		if actor == ActorOpponent && !rec.HasOpponent {
			rec.HasOpponent = true
			rec.OpponentColor = pos.Turn()
		}
		rec.Plies = append(rec.Plies, Ply{
			Position: pos,
			Stats:    stats,
			Move:     m,
			Actor:    actor,
			Degraded: pr.Degraded,
		})
		if pos, err = r.Apply(pos, m); err != nil {
			return nil, fmt.Errorf("game %s ply %d: %w", row.GameID, i, err)
		}
	}
	rec.Final = pos

	rec.Status = r.Status(pos)
	rec.MoveLimit = row.Termination == TerminationMoveLimit
	if row.Status != "" {
		want, err := rules.ParseStatus(row.Status)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", row.GameID, err)
		}
		if want != rec.Status {
			return nil, fmt.Errorf("game %s: replay ends %s, archive says %s", row.GameID, rec.Status, want)
		}
	}
	if !rec.Status.Terminal() && !rec.MoveLimit {
		return nil, fmt.Errorf("game %s: replay ends in an unfinished position", row.GameID)
	}
	rec.Result = rec.Status.Value()
	return rec, nil
}
