// Package emit turns finished self-play games into labelled training
// examples.
package emit

import (
	"fmt"
	"iter"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/store"
)

// TrainingExample is one supervised sample: the position before a ply, the
// search policy over the full move vocabulary and the game outcome for the
// side to move.
type TrainingExample struct {
	GameID string
	Ply    int
	Input  *convert.Encoded
	// Planes is the 13x64 one-hot form of Input.
	Planes []float32
	Policy []float32
	Value  float32

	planes *[]float32
}

// Release hands Input and Planes back to the encoding pools. Neither may be
// used afterwards. Examples that are kept need not be released.
func (ex *TrainingExample) Release() {
	convert.Release(ex.Input)
	if ex.planes != nil {
		convert.PutFloatBuffer(ex.planes)
	}
	ex.Input, ex.Planes, ex.planes = nil, nil, nil
}

// Emit yields one example per ply of rec in play order. The value target is
// rec.Result for plies where the side to move matches the side to move at the
// end of the game, and -rec.Result otherwise.
//
// The sequence is lazy and may be ranged over any number of times. An
// encoding failure is yielded once and ends the sequence.
func Emit(rec *selfplay.GameRecord) iter.Seq2[TrainingExample, error] {
	return func(yield func(TrainingExample, error) bool) {
		final := rec.Final.Turn()
		for i, p := range rec.Plies {
			enc, err := convert.Encode(p.Position)
			if err != nil {
				yield(TrainingExample{}, fmt.Errorf("game %s ply %d: %w", rec.ID, i, err))
				return
			}
			value := rec.Result
			if p.Position.Turn() != final {
				value = -value
			}
			buf := convert.GetFloatBuffer()
			ex := TrainingExample{
				GameID: rec.ID,
				Ply:    i,
				Input:  enc,
				Planes: enc.OneHot(*buf),
				Policy: p.Stats.Dense(),
				Value:  value,
				planes: buf,
			}
			if !yield(ex, nil) {
				return
			}
		}
	}
}

// Rows collects rec's examples as parquet rows.
func Rows(rec *selfplay.GameRecord) ([]store.TrainingRow, error) {
	rows := make([]store.TrainingRow, 0, len(rec.Plies))
	for ex, err := range Emit(rec) {
		if err != nil {
			return nil, err
		}
		rows = append(rows, store.TrainingRow{
			GameID: ex.GameID,
			Ply:    int32(ex.Ply),
			Tokens: ex.Input.Tokens32(),
			Policy: ex.Policy,
			Value:  ex.Value,
			Source: rec.Source,
		})
		ex.Release()
	}
	return rows, nil
}
