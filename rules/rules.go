// Package rules answers legality and termination questions about positions.
// The Standard implementation delegates move generation to notnil/chess and
// layers the draw rules it does not track on top.
package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/brensch/chesszero/game"
	"github.com/notnil/chess"
)

// ErrIllegalMove is returned by Apply when the move is not legal in the position.
var ErrIllegalMove = errors.New("illegal move")

type Status int

const (
	Ongoing Status = iota
	Checkmate
	Stalemate
	DrawInsufficientMaterial
	DrawRepetition
	DrawFiftyMove
)

func (s Status) Terminal() bool { return s != Ongoing }

// Draw reports whether s ends the game without a winner.
func (s Status) Draw() bool { return s != Ongoing && s != Checkmate }

// Value is the game-theoretic result for the side to move in a terminal
// position: -1 when mated, 0 otherwise.
func (s Status) Value() float32 {
	if s == Checkmate {
		return -1
	}
	return 0
}

func (s Status) String() string {
	switch s {
	case Ongoing:
		return "ongoing"
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case DrawInsufficientMaterial:
		return "insufficient_material"
	case DrawRepetition:
		return "threefold_repetition"
	case DrawFiftyMove:
		return "fifty_move_rule"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for st := Ongoing; st <= DrawFiftyMove; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return Ongoing, fmt.Errorf("unknown status %q", s)
}

// Rules is the chess-rules capability used by search and self-play.
type Rules interface {
	// LegalMoves returns the legal moves in ascending vocabulary order.
	LegalMoves(pos *game.Position) []game.Move
	// Apply plays m and returns the successor, or ErrIllegalMove.
	Apply(pos *game.Position, m game.Move) (*game.Position, error)
	Status(pos *game.Position) Status
}

// Standard implements FIDE rules on top of notnil/chess.
type Standard struct{}

var _ Rules = Standard{}

func (Standard) LegalMoves(pos *game.Position) []game.Move {
	valid := pos.Chess().ValidMoves()
	moves := make([]game.Move, 0, len(valid))
	for _, vm := range valid {
		m, err := game.ParseMove(vm.String())
		if err != nil {
			// Every legal chess move has a vocabulary entry.
			panic(fmt.Sprintf("legal move %s outside vocabulary: %v", vm, err))
		}
		moves = append(moves, m)
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i] < moves[j] })
	return moves
}

func (Standard) Apply(pos *game.Position, m game.Move) (*game.Position, error) {
	vm := findMove(pos.Chess(), m)
	if vm == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrIllegalMove, m.UCI(), pos.FEN())
	}
	return pos.Derive(pos.Chess().Update(vm))
}

func (Standard) Status(pos *game.Position) Status {
	switch pos.Chess().Status() {
	case chess.Checkmate:
		return Checkmate
	case chess.Stalemate:
		return Stalemate
	}
	if InsufficientMaterial(pos) {
		return DrawInsufficientMaterial
	}
	if pos.RepetitionCount() >= 3 {
		return DrawRepetition
	}
	if pos.HalfMoveClock() >= 100 {
		return DrawFiftyMove
	}
	return Ongoing
}

// ChessMove resolves m to the notnil move object in pos, used for SAN output
// and engine commands.
func ChessMove(pos *game.Position, m game.Move) (*chess.Move, error) {
	vm := findMove(pos.Chess(), m)
	if vm == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrIllegalMove, m.UCI(), pos.FEN())
	}
	return vm, nil
}

func findMove(cp *chess.Position, m game.Move) *chess.Move {
	if !m.Valid() {
		return nil
	}
	uci := m.UCI()
	for _, vm := range cp.ValidMoves() {
		if vm.String() == uci {
			return vm
		}
	}
	return nil
}
