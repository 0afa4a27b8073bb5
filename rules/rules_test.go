package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/brensch/chesszero/game"
)

func mustFEN(t *testing.T, fen string) *game.Position {
	t.Helper()
	p, err := game.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return p
}

func dumpMoves(moves []game.Move) string {
	parts := make([]string, len(moves))
	for i, m := range moves {
		parts[i] = m.UCI()
	}
	return strings.Join(parts, " ")
}

func contains(moves []game.Move, uci string) bool {
	for _, m := range moves {
		if m.UCI() == uci {
			return true
		}
	}
	return false
}

func play(t *testing.T, r Rules, pos *game.Position, ucis ...string) *game.Position {
	t.Helper()
	for _, uci := range ucis {
		next, err := r.Apply(pos, game.MustParseMove(uci))
		if err != nil {
			t.Fatalf("apply %s: %v", uci, err)
		}
		pos = next
	}
	return pos
}

func TestStartLegalMoves(t *testing.T) {
	moves := Standard{}.LegalMoves(game.StartPosition())
	if len(moves) != 20 {
		t.Fatalf("got %d legal moves: %s", len(moves), dumpMoves(moves))
	}
	for i := 1; i < len(moves); i++ {
		if moves[i-1] >= moves[i] {
			t.Fatalf("moves not ascending: %s", dumpMoves(moves))
		}
	}
}

func TestApplyIllegal(t *testing.T) {
	_, err := Standard{}.Apply(game.StartPosition(), game.MustParseMove("e2e5"))
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
	_, err = Standard{}.Apply(game.StartPosition(), game.PadToken)
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("reserved token: err = %v, want ErrIllegalMove", err)
	}
}

func TestApplyTracksHistory(t *testing.T) {
	start := game.StartPosition()
	next := play(t, Standard{}, start, "e2e4")
	if next.Prev() != start {
		t.Fatal("successor does not point at predecessor")
	}
	if next.Turn() != game.Black {
		t.Fatalf("turn = %v", next.Turn())
	}
	if sq, ok := next.EnPassant(); ok && game.SquareName(sq) != "e3" {
		t.Fatalf("en passant = %s", game.SquareName(sq))
	}
	if start.Piece(12) != game.WhitePawn {
		t.Fatal("predecessor was mutated")
	}
}

func TestSpecialMoves(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		want []string
	}{
		{"castling", "r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1", []string{"e1g1", "e1c1"}},
		{"promotion", "8/P7/8/8/8/8/8/k6K w - - 0 1", []string{"a7a8q", "a7a8r", "a7a8b", "a7a8n"}},
		{"en passant", "4k3/8/8/3pP3/8/8/8/4K3 w - d6 0 1", []string{"e5d6"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			moves := Standard{}.LegalMoves(mustFEN(t, tc.fen))
			for _, uci := range tc.want {
				if !contains(moves, uci) {
					t.Errorf("%s missing from %s", uci, dumpMoves(moves))
				}
			}
		})
	}
}

func TestCastlingClearsRights(t *testing.T) {
	pos := mustFEN(t, "r3k2r/8/8/8/8/8/8/R3K2R w KQkq - 0 1")
	next := play(t, Standard{}, pos, "e1g1")
	c := next.Castling()
	if c.WhiteKingside || c.WhiteQueenside {
		t.Fatalf("white castling rights kept: %+v", c)
	}
	if next.Piece(5) != game.WhiteRook || next.Piece(6) != game.WhiteKing {
		t.Fatalf("castled position wrong: %s", next.FEN())
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name string
		fen  string
		want Status
	}{
		{"start", game.StartingFEN, Ongoing},
		{"fools mate", "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3", Checkmate},
		{"stalemate", "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", Stalemate},
		{"bare kings", "8/8/8/4k3/8/8/8/4K3 w - - 0 1", DrawInsufficientMaterial},
		{"lone bishop", "8/8/8/4k3/8/8/8/2B1K3 w - - 0 1", DrawInsufficientMaterial},
		{"lone knight", "8/8/8/4k3/8/8/8/1N2K3 b - - 0 1", DrawInsufficientMaterial},
		{"same shade bishops", "5b2/8/8/4k3/8/8/8/2B1K3 w - - 0 1", DrawInsufficientMaterial},
		{"opposite shade bishops", "2b5/8/8/4k3/8/8/8/2B1K3 w - - 0 1", Ongoing},
		{"two knights", "8/8/8/4k3/8/8/8/1NN1K3 w - - 0 1", Ongoing},
		{"rook", "8/8/8/4k3/8/8/3R4/4K3 w - - 0 1", Ongoing},
		{"fifty moves", "8/8/8/4k3/8/8/3R4/4K3 w - - 100 80", DrawFiftyMove},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pos := mustFEN(t, tc.fen)
			if got := (Standard{}).Status(pos); got != tc.want {
				t.Errorf("Status(%s) = %v, want %v", tc.fen, got, tc.want)
			}
		})
	}
}

func TestThreefoldRepetition(t *testing.T) {
	r := Standard{}
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8"}

	pos := play(t, r, game.StartPosition(), shuffle...)
	if got := r.Status(pos); got != Ongoing {
		t.Fatalf("after one cycle status = %v (repetitions %d)", got, pos.RepetitionCount())
	}
	pos = play(t, r, pos, shuffle...)
	if got := r.Status(pos); got != DrawRepetition {
		t.Fatalf("after two cycles status = %v (repetitions %d)", got, pos.RepetitionCount())
	}
}

func TestStatusValue(t *testing.T) {
	if Checkmate.Value() != -1 || Stalemate.Value() != 0 || DrawRepetition.Value() != 0 {
		t.Fatal("terminal values wrong")
	}
	for st := Ongoing; st <= DrawFiftyMove; st++ {
		got, err := ParseStatus(st.String())
		if err != nil || got != st {
			t.Errorf("ParseStatus(%q) = %v, %v", st.String(), got, err)
		}
	}
}
