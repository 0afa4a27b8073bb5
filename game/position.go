// Package game holds the chess position and move types shared by search,
// self-play and the training pipeline.
//
// A Position is immutable. Every move derives a new Position that points back
// at its predecessor, so positions can be shared freely between tree nodes and
// game records without copying.
package game

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/notnil/chess"
)

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type Color int8

const (
	White Color = iota
	Black
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// Piece is a square occupancy category. The numbering is part of the model
// input encoding: 0 empty, 1-6 white PNBRQK, 7-12 black pnbrqk.
type Piece int8

const (
	Empty Piece = iota
	WhitePawn
	WhiteKnight
	WhiteBishop
	WhiteRook
	WhiteQueen
	WhiteKing
	BlackPawn
	BlackKnight
	BlackBishop
	BlackRook
	BlackQueen
	BlackKing
)

// NumPieceCategories counts Empty plus the twelve pieces.
const NumPieceCategories = 13

var fenPieces = map[byte]Piece{
	'P': WhitePawn, 'N': WhiteKnight, 'B': WhiteBishop, 'R': WhiteRook, 'Q': WhiteQueen, 'K': WhiteKing,
	'p': BlackPawn, 'n': BlackKnight, 'b': BlackBishop, 'r': BlackRook, 'q': BlackQueen, 'k': BlackKing,
}

func (p Piece) Color() Color {
	if p >= BlackPawn {
		return Black
	}
	return White
}

func (p Piece) String() string {
	for ch, piece := range fenPieces {
		if piece == p {
			return string(ch)
		}
	}
	return "."
}

type Castling struct {
	WhiteKingside  bool
	WhiteQueenside bool
	BlackKingside  bool
	BlackQueenside bool
}

// Position is an immutable chess position with enough history to detect
// repetitions.
type Position struct {
	cp   *chess.Position
	prev *Position
	fen  string
	key  string

	board     [64]Piece
	turn      Color
	castling  Castling
	enPassant int8
	halfMove  int
	fullMove  int
}

// StartPosition returns the standard initial position.
func StartPosition() *Position {
	p, err := FromChess(chess.NewGame().Position(), nil)
	if err != nil {
		panic(err)
	}
	return p
}

// ParseFEN builds a history-less position from a FEN string.
func ParseFEN(fen string) (*Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return FromChess(chess.NewGame(opt).Position(), nil)
}

// FromChess wraps a notnil position. prev is the position this one was
// reached from, or nil.
func FromChess(cp *chess.Position, prev *Position) (*Position, error) {
	if cp == nil {
		return nil, fmt.Errorf("nil chess position")
	}
	p := &Position{cp: cp, prev: prev, enPassant: -1, fullMove: 1}
	if err := p.parseFEN(cp.String()); err != nil {
		return nil, err
	}
	return p, nil
}

// Derive wraps cp as the successor of p.
func (p *Position) Derive(cp *chess.Position) (*Position, error) {
	return FromChess(cp, p)
}

func (p *Position) parseFEN(fen string) error {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fmt.Errorf("fen %q: expected at least 4 fields", fen)
	}
	p.fen = fen
	p.key = strings.Join(fields[:4], " ")

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return fmt.Errorf("fen %q: expected 8 ranks", fen)
	}
	for i, rank := range ranks {
		r := 7 - i
		file := 0
		for j := 0; j < len(rank); j++ {
			ch := rank[j]
			if ch >= '1' && ch <= '8' {
				file += int(ch - '0')
				continue
			}
			piece, ok := fenPieces[ch]
			if !ok || file > 7 {
				return fmt.Errorf("fen %q: bad rank %q", fen, rank)
			}
			p.board[r*8+file] = piece
			file++
		}
		if file != 8 {
			return fmt.Errorf("fen %q: rank %q has %d files", fen, rank, file)
		}
	}

	switch fields[1] {
	case "w":
		p.turn = White
	case "b":
		p.turn = Black
	default:
		return fmt.Errorf("fen %q: bad side to move %q", fen, fields[1])
	}

	p.castling = Castling{
		WhiteKingside:  strings.Contains(fields[2], "K"),
		WhiteQueenside: strings.Contains(fields[2], "Q"),
		BlackKingside:  strings.Contains(fields[2], "k"),
		BlackQueenside: strings.Contains(fields[2], "q"),
	}

	if fields[3] != "-" {
		sq, err := ParseSquare(fields[3])
		if err != nil {
			return fmt.Errorf("fen %q: %w", fen, err)
		}
		p.enPassant = int8(sq)
	}

	if len(fields) > 4 {
		n, err := strconv.Atoi(fields[4])
		if err != nil {
			return fmt.Errorf("fen %q: half-move clock: %w", fen, err)
		}
		p.halfMove = n
	}
	if len(fields) > 5 {
		n, err := strconv.Atoi(fields[5])
		if err != nil {
			return fmt.Errorf("fen %q: full-move number: %w", fen, err)
		}
		p.fullMove = n
	}
	return nil
}

// Chess exposes the underlying notnil position for rules and engine adapters.
func (p *Position) Chess() *chess.Position { return p.cp }

func (p *Position) Prev() *Position { return p.prev }

// Piece returns the occupancy of square sq (a1 = 0, h8 = 63).
func (p *Position) Piece(sq int) Piece { return p.board[sq] }

func (p *Position) Board() [64]Piece { return p.board }

func (p *Position) Turn() Color { return p.turn }

func (p *Position) Castling() Castling { return p.castling }

// EnPassant returns the en-passant target square, if any.
func (p *Position) EnPassant() (int, bool) {
	if p.enPassant < 0 {
		return 0, false
	}
	return int(p.enPassant), true
}

func (p *Position) HalfMoveClock() int { return p.halfMove }

func (p *Position) FullMoveNumber() int { return p.fullMove }

func (p *Position) FEN() string { return p.fen }

// Key identifies the position for repetition purposes: placement, side to
// move, castling rights and en-passant square, without the clocks.
func (p *Position) Key() string { return p.key }

// RepetitionCount returns how many times this position has occurred in its
// history, counting itself. Only positions since the last irreversible move
// are considered.
func (p *Position) RepetitionCount() int {
	count := 1
	q := p.prev
	for steps := 1; q != nil && steps <= p.halfMove; steps++ {
		if q.key == p.key {
			count++
		}
		q = q.prev
	}
	return count
}

// Ply returns the number of positions preceding this one in its history.
func (p *Position) Ply() int {
	n := 0
	for q := p.prev; q != nil; q = q.prev {
		n++
	}
	return n
}

func (p *Position) String() string { return p.fen }
