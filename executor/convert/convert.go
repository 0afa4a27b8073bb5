package convert

import (
	"errors"
	"fmt"
	"sync"

	"github.com/brensch/chesszero/game"
)

const (
	BoardTokens = 64
	// NumTokens is the model's token sequence: 64 squares, side to move and
	// the four castling flags.
	NumTokens  = BoardTokens + 1 + 4
	OneHotSize = game.NumPieceCategories * BoardTokens

	TurnToken           = 64
	WhiteKingsideToken  = 65
	WhiteQueensideToken = 66
	BlackKingsideToken  = 67
	BlackQueensideToken = 68
)

// ErrInvalidPosition is returned for positions the network cannot represent.
var ErrInvalidPosition = errors.New("invalid position")

// Encoded is the network input for one position.
type Encoded struct {
	Tokens [NumTokens]int64
}

var encodedPool = sync.Pool{
	New: func() interface{} {
		return new(Encoded)
	},
}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, OneHotSize)
		return &b
	},
}

// GetFloatBuffer returns a one-hot sized buffer from the pool.
func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// Release returns e to the pool. e must not be used afterwards.
func Release(e *Encoded) {
	if e != nil {
		encodedPool.Put(e)
	}
}

// Encode converts pos into model tokens. Square a1 is token 0. The turn token
// is 1 for white to move; castling tokens are 1 when the right is held.
// The result comes from a pool; callers that are done with it may Release it.
func Encode(pos *game.Position) (*Encoded, error) {
	if pos == nil {
		return nil, fmt.Errorf("%w: nil position", ErrInvalidPosition)
	}

	var whiteKings, blackKings int
	e := encodedPool.Get().(*Encoded)
	for sq := 0; sq < BoardTokens; sq++ {
		p := pos.Piece(sq)
		switch p {
		case game.WhiteKing:
			whiteKings++
		case game.BlackKing:
			blackKings++
		}
		e.Tokens[sq] = int64(p)
	}
	if whiteKings != 1 || blackKings != 1 {
		Release(e)
		return nil, fmt.Errorf("%w: %d white and %d black kings in %s", ErrInvalidPosition, whiteKings, blackKings, pos.FEN())
	}

	e.Tokens[TurnToken] = boolToken(pos.Turn() == game.White)
	c := pos.Castling()
	e.Tokens[WhiteKingsideToken] = boolToken(c.WhiteKingside)
	e.Tokens[WhiteQueensideToken] = boolToken(c.WhiteQueenside)
	e.Tokens[BlackKingsideToken] = boolToken(c.BlackKingside)
	e.Tokens[BlackQueensideToken] = boolToken(c.BlackQueenside)
	return e, nil
}

func boolToken(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (e *Encoded) Board() []int64 { return e.Tokens[:BoardTokens] }

func (e *Encoded) Turn() int64 { return e.Tokens[TurnToken] }

// Castling returns the four flags in model input order: white kingside,
// white queenside, black kingside, black queenside.
func (e *Encoded) Castling() [4]int64 {
	return [4]int64{
		e.Tokens[WhiteKingsideToken],
		e.Tokens[WhiteQueensideToken],
		e.Tokens[BlackKingsideToken],
		e.Tokens[BlackQueensideToken],
	}
}

// Tokens32 returns a copy of the tokens narrowed for storage.
func (e *Encoded) Tokens32() []int32 {
	out := make([]int32, NumTokens)
	for i, v := range e.Tokens {
		out[i] = int32(v)
	}
	return out
}

// Decode rebuilds an Encoded from stored tokens.
func Decode(tokens []int32) (*Encoded, error) {
	if len(tokens) != NumTokens {
		return nil, fmt.Errorf("%w: %d tokens, want %d", ErrInvalidPosition, len(tokens), NumTokens)
	}
	e := new(Encoded)
	for i, v := range tokens {
		e.Tokens[i] = int64(v)
	}
	return e, nil
}

// OneHot writes the 13x64 plane encoding into dst, laid out [category][square].
// dst must hold OneHotSize floats; use GetFloatBuffer for a pooled one.
func (e *Encoded) OneHot(dst []float32) []float32 {
	dst = dst[:OneHotSize]
	clear(dst)
	for sq := 0; sq < BoardTokens; sq++ {
		dst[int(e.Tokens[sq])*BoardTokens+sq] = 1
	}
	return dst
}
