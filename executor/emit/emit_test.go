package emit

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
)

// foolsMate builds the record of 1. f3 e5 2. g4 Qh4# with one-hot statistics.
func foolsMate(t *testing.T) *selfplay.GameRecord {
	t.Helper()
	r := rules.Standard{}
	pos := game.StartPosition()
	rec := &selfplay.GameRecord{ID: "fools", Source: "test"}
	for _, uci := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		m := game.MustParseMove(uci)
		rec.Plies = append(rec.Plies, selfplay.Ply{
			Position: pos,
			Stats: &mcts.SearchStatistics{
				Moves:  []game.Move{m},
				Visits: []int{1},
				Policy: []float32{1},
			},
			Move:  m,
			Actor: selfplay.ActorMCTS,
		})
		next, err := r.Apply(pos, m)
		if err != nil {
			t.Fatal(err)
		}
		pos = next
	}
	rec.Final = pos
	rec.Status = r.Status(pos)
	rec.Result = rec.Status.Value()
	if rec.Status != rules.Checkmate {
		t.Fatalf("status = %s", rec.Status)
	}
	return rec
}

func TestValueParity(t *testing.T) {
	rec := foolsMate(t)
	// White is mated, so the result is a loss for the side to move at the end
	// and a win for every ply Black played.
	if rec.Result != -1 {
		t.Fatalf("result = %v", rec.Result)
	}
	last := len(rec.Plies)
	i := 0
	for ex, err := range Emit(rec) {
		if err != nil {
			t.Fatal(err)
		}
		if ex.Ply != i || ex.GameID != "fools" {
			t.Fatalf("example %d: ply=%d game=%s", i, ex.Ply, ex.GameID)
		}
		want := rec.Result
		if (last-i)%2 == 1 {
			want = -want
		}
		if ex.Value != want {
			t.Fatalf("ply %d value %v, want %v", i, ex.Value, want)
		}
		i++
	}
	if i != 4 {
		t.Fatalf("emitted %d examples", i)
	}
}

func TestPolicyIsDense(t *testing.T) {
	rec := foolsMate(t)
	for ex, err := range Emit(rec) {
		if err != nil {
			t.Fatal(err)
		}
		if len(ex.Policy) != game.VocabSize {
			t.Fatalf("policy length %d", len(ex.Policy))
		}
		var sum float64
		for _, p := range ex.Policy {
			sum += float64(p)
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("ply %d policy sums to %v", ex.Ply, sum)
		}
		if ex.Policy[rec.Plies[ex.Ply].Move] != 1 {
			t.Fatalf("ply %d mass not on the played move", ex.Ply)
		}
		if len(ex.Planes) != convert.OneHotSize {
			t.Fatalf("planes length %d", len(ex.Planes))
		}
	}
}

func TestReleaseClearsExample(t *testing.T) {
	for ex, err := range Emit(foolsMate(t)) {
		if err != nil {
			t.Fatal(err)
		}
		var sum float32
		for _, v := range ex.Planes {
			sum += v
		}
		if sum != convert.BoardTokens {
			t.Fatalf("ply %d planes sum %v", ex.Ply, sum)
		}
		ex.Release()
		if ex.Input != nil || ex.Planes != nil {
			t.Fatal("released example still holds buffers")
		}
		ex.Release()
	}
}

func TestEmitRestartable(t *testing.T) {
	seq := Emit(foolsMate(t))
	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatal(err)
			}
			n++
		}
		return n
	}
	if a, b := count(), count(); a != 4 || b != 4 {
		t.Fatalf("passes gave %d and %d", a, b)
	}

	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Fatal("early break ignored")
	}
}

type uniform struct{}

func (uniform) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	policy := make([]float32, game.VocabSize)
	for i := game.NumReserved; i < game.VocabSize; i++ {
		policy[i] = 1
	}
	return mcts.Prediction{Policy: policy}, nil
}

func TestMoveCapValuesAreZero(t *testing.T) {
	opts := selfplay.DefaultOptions()
	opts.Evaluator = uniform{}
	opts.Simulations = 4
	opts.MaxPlies = 10
	opts.Rng = rand.New(rand.NewSource(11))
	rec, err := selfplay.PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.MoveLimit {
		t.Fatalf("termination = %s", rec.Termination())
	}
	n := 0
	for ex, err := range Emit(rec) {
		if err != nil {
			t.Fatal(err)
		}
		if ex.Value != 0 {
			t.Fatalf("ply %d value %v", ex.Ply, ex.Value)
		}
		n++
	}
	if n != 10 {
		t.Fatalf("emitted %d", n)
	}
}

func TestRows(t *testing.T) {
	rows, err := Rows(foolsMate(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d", len(rows))
	}
	for i, row := range rows {
		if row.Ply != int32(i) || row.Source != "test" || len(row.Tokens) != convert.NumTokens {
			t.Fatalf("row %d = %+v", i, row)
		}
		enc, err := convert.Decode(row.Tokens)
		if err != nil {
			t.Fatal(err)
		}
		wantTurn := int64(1)
		if i%2 == 1 {
			wantTurn = 0
		}
		if enc.Turn() != wantTurn {
			t.Fatalf("row %d turn token %d", i, enc.Turn())
		}
	}
	if rows[0].Value != -1 || rows[1].Value != 1 {
		t.Fatalf("values %v %v", rows[0].Value, rows[1].Value)
	}
}
