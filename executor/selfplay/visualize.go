// visualize.go - Console rendering for debugging self-play games.
//
// RenderBoard draws the position with White at the bottom, followed by the
// model input tokens that are not visible on the board itself.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/game"
	"github.com/muesli/termenv"
)

const (
	lightSquare = "#f0d9b5"
	darkSquare  = "#b58863"
	whitePiece  = "#ffffff"
	blackPiece  = "#000000"
)

// RenderBoard returns a text diagram of pos. The Ascii profile gives plain
// letters with '.' for empty squares; colour profiles shade the squares.
func RenderBoard(pos *game.Position, profile termenv.Profile) string {
	var sb strings.Builder
	for rank := 7; rank >= 0; rank-- {
		fmt.Fprintf(&sb, "%d ", rank+1)
		for file := 0; file < 8; file++ {
			sq := rank*8 + file
			sb.WriteString(renderSquare(pos.Piece(sq), (rank+file)%2 == 0, profile))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  a b c d e f g h\n")

	if enc, err := convert.Encode(pos); err == nil {
		c := enc.Castling()
		fmt.Fprintf(&sb, "turn=%d castling=%v\n", enc.Turn(), c)
		convert.Release(enc)
	}
	return sb.String()
}

func renderSquare(p game.Piece, dark bool, profile termenv.Profile) string {
	ch := "."
	if p != game.Empty {
		ch = p.String()
	}
	if profile == termenv.Ascii {
		return ch + " "
	}

	bg := lightSquare
	if dark {
		bg = darkSquare
	}
	style := profile.String(ch + " ").Background(profile.Color(bg))
	if p != game.Empty {
		fg := whitePiece
		if p.Color() == game.Black {
			fg = blackPiece
		}
		style = style.Foreground(profile.Color(fg)).Bold()
	}
	return style.String()
}
