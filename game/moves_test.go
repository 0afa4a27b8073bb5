package game

import "testing"

func TestVocabularyLayout(t *testing.T) {
	if len(vocab.uci) != VocabSize {
		t.Fatalf("vocab size = %d, want %d", len(vocab.uci), VocabSize)
	}
	if vocab.uci[MoveToken] != "<move>" || vocab.uci[LossToken] != "<loss>" || vocab.uci[PadToken] != "<pad>" {
		t.Fatalf("reserved tokens out of order: %v", vocab.uci[:NumReserved])
	}

	var plain, promos int
	for _, s := range vocab.uci[NumReserved:] {
		switch len(s) {
		case 4:
			plain++
		case 5:
			promos++
		default:
			t.Fatalf("unexpected entry %q", s)
		}
	}
	if plain != 1792 {
		t.Errorf("plain moves = %d, want 1792", plain)
	}
	if promos != 176 {
		t.Errorf("promotions = %d, want 176", promos)
	}
}

func TestParseMoveRoundTrip(t *testing.T) {
	for _, uci := range []string{"e2e4", "g1f3", "e1g1", "e8c8", "a7a8q", "h2g1n", "b7c8r"} {
		m, err := ParseMove(uci)
		if err != nil {
			t.Fatalf("ParseMove(%q): %v", uci, err)
		}
		if !m.Valid() {
			t.Errorf("%q parsed to reserved index %d", uci, m)
		}
		if got := m.UCI(); got != uci {
			t.Errorf("round trip %q -> %d -> %q", uci, m, got)
		}
	}
}

func TestParseMoveRejects(t *testing.T) {
	for _, uci := range []string{"", "<pad>", "e2e5x", "a1b3q", "e2e2", "a1c4", "e7e8k", "a3a1q"} {
		if _, err := ParseMove(uci); err == nil {
			t.Errorf("ParseMove(%q) succeeded, want error", uci)
		}
	}
}

func TestMoveSquares(t *testing.T) {
	m := MustParseMove("b7c8r")
	from, to := m.Squares()
	if SquareName(from) != "b7" || SquareName(to) != "c8" {
		t.Errorf("squares = %s %s", SquareName(from), SquareName(to))
	}
	if m.Promotion() != 'r' {
		t.Errorf("promotion = %q", m.Promotion())
	}
	if MustParseMove("e2e4").Promotion() != 0 {
		t.Error("plain move reports a promotion")
	}
}
