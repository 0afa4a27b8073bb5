package store

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/notnil/chess"
)

// PGNResult renders a white-perspective result as a PGN result token.
func PGNResult(result float32, finished bool) string {
	switch {
	case !finished:
		return "*"
	case result > 0:
		return "1-0"
	case result < 0:
		return "0-1"
	}
	return "1/2-1/2"
}

// WritePGN replays row from its start position and writes it as a PGN game
// with SAN moves. Extra tags are written after the standard ones in the
// given order.
func WritePGN(w io.Writer, row GameRow, extra ...[2]string) error {
	start := game.StartPosition()
	if row.StartFEN != "" && row.StartFEN != game.StartingFEN {
		var err error
		if start, err = game.ParseFEN(row.StartFEN); err != nil {
			return fmt.Errorf("game %s: %w", row.GameID, err)
		}
	}
	pos := start

	r := rules.Standard{}
	var san []string
	for i, ply := range row.Plies {
		m, err := game.ParseMove(ply.Move)
		if err != nil {
			return fmt.Errorf("game %s ply %d: %w", row.GameID, i, err)
		}
		cm, err := rules.ChessMove(pos, m)
		if err != nil {
			return fmt.Errorf("game %s ply %d: %w", row.GameID, i, err)
		}
		san = append(san, chess.AlgebraicNotation{}.Encode(pos.Chess(), cm))
		if pos, err = r.Apply(pos, m); err != nil {
			return fmt.Errorf("game %s ply %d: %w", row.GameID, i, err)
		}
	}

	result := PGNResult(row.Result, row.Termination != "" && row.Termination != "aborted")

	bw := bufio.NewWriter(w)
	tag := func(k, v string) {
		fmt.Fprintf(bw, "[%s %q]\n", k, v)
	}
	event := row.Source
	if event == "" {
		event = "?"
	}
	tag("Event", event)
	tag("Site", "chesszero")
	if !row.StartedAt.IsZero() {
		tag("Date", row.StartedAt.UTC().Format("2006.01.02"))
	}
	tag("Round", row.GameID)
	white, black := "model", "model"
	if row.Opponent != "" {
		if opponentColor(row) == game.White {
			white = row.Opponent
		} else {
			black = row.Opponent
		}
	}
	tag("White", white)
	tag("Black", black)
	tag("Result", result)
	if row.StartFEN != "" && row.StartFEN != game.StartingFEN {
		tag("SetUp", "1")
		tag("FEN", row.StartFEN)
	}
	tag("Termination", row.Termination)
	for _, kv := range extra {
		tag(kv[0], kv[1])
	}
	bw.WriteString("\n")

	moveNo := start.FullMoveNumber()
	whiteToMove := start.Turn() == game.White

	var line strings.Builder
	for i, s := range san {
		switch {
		case whiteToMove:
			fmt.Fprintf(&line, "%d. ", moveNo)
		case i == 0:
			fmt.Fprintf(&line, "%d... ", moveNo)
		}
		line.WriteString(s)
		line.WriteByte(' ')
		if !whiteToMove {
			moveNo++
		}
		whiteToMove = !whiteToMove
	}
	line.WriteString(result)

	bw.WriteString(wrap(line.String(), 80))
	bw.WriteString("\n\n")
	return bw.Flush()
}

// opponentColor finds the side the external opponent played from the ply
// actors. White is assumed when the opponent never moved.
func opponentColor(row GameRow) game.Color {
	turn := game.White
	if f := strings.Fields(row.StartFEN); len(f) > 1 && f[1] == "b" {
		turn = game.Black
	}
	for _, p := range row.Plies {
		if p.Actor == "opponent" {
			return turn
		}
		turn = turn.Other()
	}
	return game.White
}

func wrap(s string, width int) string {
	var b strings.Builder
	n := 0
	for i, word := range strings.Fields(s) {
		if i > 0 {
			if n+1+len(word) > width {
				b.WriteByte('\n')
				n = 0
			} else {
				b.WriteByte(' ')
				n++
			}
		}
		b.WriteString(word)
		n += len(word)
	}
	return b.String()
}
