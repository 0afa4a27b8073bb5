package game

import (
	"fmt"
	"strings"
)

// Move is an index into the fixed move vocabulary shared with the policy
// head of the network.
//
// Layout: three reserved tokens, then every from-to pair reachable by a queen
// or a knight on an empty board (1792 entries, castling is the king's two
// square move), then the 176 promotions (44 from-to pairs times q, r, b, n).
// Generation order is deterministic so indices are stable across builds.
type Move int32

const (
	MoveToken Move = iota
	LossToken
	PadToken

	NumReserved = 3
	VocabSize   = 1971
)

// NoMove is returned by lookups that fail.
const NoMove Move = -1

var promotionPieces = []byte{'q', 'r', 'b', 'n'}

type vocabulary struct {
	uci   []string
	index map[string]Move
}

var vocab = buildVocabulary()

func buildVocabulary() vocabulary {
	uci := make([]string, 0, VocabSize)
	uci = append(uci, "<move>", "<loss>", "<pad>")

	for from := 0; from < 64; from++ {
		for to := 0; to < 64; to++ {
			if from == to {
				continue
			}
			if queenLine(from, to) || knightJump(from, to) {
				uci = append(uci, SquareName(from)+SquareName(to))
			}
		}
	}

	// White promotes from rank 7 to 8, black from rank 2 to 1.
	for _, ranks := range [][2]int{{6, 7}, {1, 0}} {
		for file := 0; file < 8; file++ {
			for df := -1; df <= 1; df++ {
				tf := file + df
				if tf < 0 || tf > 7 {
					continue
				}
				from := ranks[0]*8 + file
				to := ranks[1]*8 + tf
				for _, promo := range promotionPieces {
					uci = append(uci, SquareName(from)+SquareName(to)+string(promo))
				}
			}
		}
	}

	if len(uci) != VocabSize {
		panic(fmt.Sprintf("move vocabulary has %d entries, want %d", len(uci), VocabSize))
	}
	index := make(map[string]Move, len(uci))
	for i, s := range uci {
		index[s] = Move(i)
	}
	return vocabulary{uci: uci, index: index}
}

func queenLine(from, to int) bool {
	df := abs(from%8 - to%8)
	dr := abs(from/8 - to/8)
	return df == 0 || dr == 0 || df == dr
}

func knightJump(from, to int) bool {
	df := abs(from%8 - to%8)
	dr := abs(from/8 - to/8)
	return (df == 1 && dr == 2) || (df == 2 && dr == 1)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ParseMove maps a UCI move string to its vocabulary index.
func ParseMove(uci string) (Move, error) {
	m, ok := vocab.index[strings.ToLower(uci)]
	if !ok || m < NumReserved {
		return NoMove, fmt.Errorf("move %q not in vocabulary", uci)
	}
	return m, nil
}

// MustParseMove is ParseMove for constants in tests and tables.
func MustParseMove(uci string) Move {
	m, err := ParseMove(uci)
	if err != nil {
		panic(err)
	}
	return m
}

// Valid reports whether m indexes a playable vocabulary entry.
func (m Move) Valid() bool { return m >= NumReserved && m < VocabSize }

// UCI returns the move in UCI notation, or the reserved token name.
func (m Move) UCI() string {
	if m < 0 || int(m) >= len(vocab.uci) {
		return ""
	}
	return vocab.uci[m]
}

func (m Move) String() string { return m.UCI() }

// Squares returns the from and to squares of a playable move.
func (m Move) Squares() (from, to int) {
	s := m.UCI()
	from, _ = ParseSquare(s[0:2])
	to, _ = ParseSquare(s[2:4])
	return from, to
}

// Promotion returns the promotion piece letter, or 0.
func (m Move) Promotion() byte {
	s := m.UCI()
	if len(s) == 5 {
		return s[4]
	}
	return 0
}

// SquareName returns the algebraic name of sq, a1 = 0.
func SquareName(sq int) string {
	return string([]byte{byte('a' + sq%8), byte('1' + sq/8)})
}

// ParseSquare is the inverse of SquareName.
func ParseSquare(s string) (int, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, fmt.Errorf("bad square %q", s)
	}
	return int(s[1]-'1')*8 + int(s[0]-'a'), nil
}
