package rules

import "github.com/brensch/chesszero/game"

// InsufficientMaterial reports the dead positions where no sequence of legal
// moves can mate: K v K, K+minor v K, and K+B v K+B with same-coloured bishops.
func InsufficientMaterial(pos *game.Position) bool {
	var minors []game.Piece
	var bishopSquares []int
	for sq := 0; sq < 64; sq++ {
		switch p := pos.Piece(sq); p {
		case game.Empty, game.WhiteKing, game.BlackKing:
		case game.WhiteKnight, game.BlackKnight:
			minors = append(minors, p)
		case game.WhiteBishop, game.BlackBishop:
			minors = append(minors, p)
			bishopSquares = append(bishopSquares, sq)
		default:
			return false
		}
	}

	switch len(minors) {
	case 0, 1:
		return true
	case 2:
		if len(bishopSquares) != 2 || minors[0].Color() == minors[1].Color() {
			return false
		}
		return squareShade(bishopSquares[0]) == squareShade(bishopSquares[1])
	}
	return false
}

func squareShade(sq int) int { return (sq/8 + sq%8) % 2 }
