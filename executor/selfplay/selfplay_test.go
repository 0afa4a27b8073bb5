package selfplay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/muesli/termenv"
)

// MockPredictor returns a uniform policy and a zero value. It is safe for
// concurrent use.
type MockPredictor struct {
	Calls atomic.Int64
	Err   error
}

func (m *MockPredictor) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	m.Calls.Add(1)
	if m.Err != nil {
		return mcts.Prediction{}, m.Err
	}
	policy := make([]float32, game.VocabSize)
	for i := game.NumReserved; i < game.VocabSize; i++ {
		policy[i] = 1.0 / float32(game.VocabSize-game.NumReserved)
	}
	return mcts.Prediction{Policy: policy}, nil
}

// fakeOpponent plays the first legal move, or fails with err.
type fakeOpponent struct {
	err     error
	calls   int
	newGame int
}

func (f *fakeOpponent) NewGame(rng *rand.Rand) error {
	f.newGame++
	return nil
}

func (f *fakeOpponent) ChooseMove(ctx context.Context, pos *game.Position, budget time.Duration) (game.Move, error) {
	f.calls++
	if f.err != nil {
		return game.NoMove, f.err
	}
	return rules.Standard{}.LegalMoves(pos)[0], nil
}

func (f *fakeOpponent) Describe() string { return "fake" }

func testOptions(ev mcts.Evaluator) Options {
	opts := DefaultOptions()
	opts.Evaluator = ev
	opts.Simulations = 8
	opts.MaxPlies = 6
	opts.MCTS.Dirichlet = false
	opts.Rng = rand.New(rand.NewSource(7))
	return opts
}

func TestMoveCapIsDraw(t *testing.T) {
	rec, err := PlayGame(context.Background(), testOptions(&MockPredictor{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Plies) != 6 {
		t.Fatalf("plies = %d, want 6", len(rec.Plies))
	}
	if !rec.MoveLimit || rec.Termination() != TerminationMoveLimit {
		t.Fatalf("termination = %s", rec.Termination())
	}
	if rec.Result != 0 || rec.WhiteResult() != 0 {
		t.Fatalf("result = %v", rec.Result)
	}
	if rec.Final.Ply() != 6 {
		t.Fatalf("final ply = %d", rec.Final.Ply())
	}
	for i, p := range rec.Plies {
		if p.Actor != ActorMCTS || p.Degraded {
			t.Fatalf("ply %d: actor=%s degraded=%v", i, p.Actor, p.Degraded)
		}
		if p.Stats == nil || p.Stats.Index(p.Move) < 0 {
			t.Fatalf("ply %d: move %s missing from statistics", i, p.Move)
		}
	}
}

func TestPlaysMateInOne(t *testing.T) {
	opts := testOptions(&MockPredictor{})
	opts.Start = mustFEN(t, "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1")
	opts.Simulations = 300
	opts.Schedule = TemperatureSchedule{}

	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Plies) != 1 || rec.Plies[0].Move.UCI() != "a1a8" {
		t.Fatalf("played %v", rec.Plies)
	}
	if rec.Status != rules.Checkmate || rec.Result != -1 || rec.WhiteResult() != 1 {
		t.Fatalf("status=%s result=%v", rec.Status, rec.Result)
	}
}

func TestStartFENs(t *testing.T) {
	fen := "4k3/8/8/8/8/8/4P3/4K3 b - - 0 1"
	opts := testOptions(&MockPredictor{})
	opts.StartFENs = []string{fen}
	opts.MaxPlies = 1
	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Start().FEN() != fen {
		t.Fatalf("start = %s", rec.Start().FEN())
	}

	opts.StartFENs = []string{"not a fen"}
	if _, err := PlayGame(context.Background(), opts); err == nil {
		t.Fatal("bad start FEN accepted")
	}
}

func TestEvaluatorFailureAbortsGame(t *testing.T) {
	_, err := PlayGame(context.Background(), testOptions(&MockPredictor{Err: errors.New("gpu on fire")}))
	if !errors.Is(err, mcts.ErrEvaluator) {
		t.Fatalf("err = %v, want ErrEvaluator", err)
	}
}

func TestCancelledGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := PlayGame(ctx, testOptions(&MockPredictor{})); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpponentPlaysItsColour(t *testing.T) {
	opp := &fakeOpponent{}
	opts := testOptions(&MockPredictor{})
	opts.Opponent = opp
	opts.OpponentGames = 1

	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.HasOpponent || rec.Opponent != "fake" || opp.newGame != 1 {
		t.Fatalf("opponent not seated: %+v", rec)
	}
	for i, p := range rec.Plies {
		want := ActorMCTS
		if p.Position.Turn() == rec.OpponentColor {
			want = ActorOpponent
		}
		if p.Actor != want {
			t.Fatalf("ply %d actor %s, want %s", i, p.Actor, want)
		}
		if p.Stats == nil {
			t.Fatalf("ply %d has no search statistics", i)
		}
	}
	if opp.calls != 3 {
		t.Fatalf("opponent called %d times", opp.calls)
	}
}

func TestOpponentTimeoutDegradesPlies(t *testing.T) {
	opp := &fakeOpponent{err: fmt.Errorf("%w: timed out", opponent.ErrAdapterUnavailable)}
	opts := testOptions(&MockPredictor{})
	opts.Opponent = opp
	opts.OpponentGames = 1

	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Plies) != 6 {
		t.Fatalf("plies = %d", len(rec.Plies))
	}
	for i, p := range rec.Plies {
		if p.Actor != ActorMCTS {
			t.Fatalf("ply %d played by %s", i, p.Actor)
		}
		mine := p.Position.Turn() == rec.OpponentColor
		if p.Degraded != mine {
			t.Fatalf("ply %d degraded=%v, opponent colour=%v", i, p.Degraded, mine)
		}
	}
	if rec.DegradedPlies() != 3 {
		t.Fatalf("degraded = %d", rec.DegradedPlies())
	}
	if opp.calls != 1 {
		t.Fatalf("failed opponent asked %d times", opp.calls)
	}
}

func TestOpponentMoveCapFallsBackQuietly(t *testing.T) {
	opp := &fakeOpponent{err: opponent.ErrMoveCapReached}
	opts := testOptions(&MockPredictor{})
	opts.Opponent = opp
	opts.OpponentGames = 1

	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if rec.DegradedPlies() != 0 {
		t.Fatalf("degraded = %d", rec.DegradedPlies())
	}
	if opp.calls != 1 {
		t.Fatalf("capped opponent asked %d times", opp.calls)
	}
}

func TestNoOpponentGames(t *testing.T) {
	opp := &fakeOpponent{}
	opts := testOptions(&MockPredictor{})
	opts.Opponent = opp
	opts.OpponentGames = 0

	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if rec.HasOpponent || opp.calls != 0 {
		t.Fatal("opponent used with zero game fraction")
	}
}

func TestSchedule(t *testing.T) {
	s := DefaultSchedule()
	if s.At(0) != 1 || s.At(29) != 1 || s.At(30) != 0 || s.At(200) != 0 {
		t.Fatalf("schedule %+v", s)
	}
}

func TestArchiveReplay(t *testing.T) {
	opp := &fakeOpponent{}
	opts := testOptions(&MockPredictor{})
	opts.Opponent = opp
	opts.OpponentGames = 1
	rec, err := PlayGame(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	row := rec.Archive()
	if row.Termination != TerminationMoveLimit || len(row.Plies) != 6 {
		t.Fatalf("archived %+v", row)
	}

	back, err := Replay(row, nil)
	if err != nil {
		t.Fatal(err)
	}
	if back.Final.FEN() != rec.Final.FEN() || !back.MoveLimit || back.Result != rec.Result {
		t.Fatalf("replay diverged: %s vs %s", back.Final.FEN(), rec.Final.FEN())
	}
	if back.OpponentColor != rec.OpponentColor {
		t.Fatalf("opponent colour %v, want %v", back.OpponentColor, rec.OpponentColor)
	}
	for i := range rec.Plies {
		a, b := rec.Plies[i], back.Plies[i]
		if a.Move != b.Move || a.Actor != b.Actor || a.Position.FEN() != b.Position.FEN() {
			t.Fatalf("ply %d differs", i)
		}
		da, db := a.Stats.Dense(), b.Stats.Dense()
		for j := range da {
			if da[j] != db[j] {
				t.Fatalf("ply %d policy differs at %d", i, j)
			}
		}
	}
}

func TestReplayRejectsTamperedStatus(t *testing.T) {
	rec, err := PlayGame(context.Background(), testOptions(&MockPredictor{}))
	if err != nil {
		t.Fatal(err)
	}
	row := rec.Archive()
	row.Status = rules.Checkmate.String()
	if _, err := Replay(row, nil); err == nil {
		t.Fatal("status mismatch accepted")
	}

	row = rec.Archive()
	row.Termination = rules.Ongoing.String()
	if _, err := Replay(row, nil); err == nil {
		t.Fatal("unfinished game accepted")
	}
}

func TestRunPool(t *testing.T) {
	ev := &MockPredictor{}
	var (
		mu        sync.Mutex
		opponents []*fakeOpponent
	)
	opts := PoolOptions{
		Workers: 3,
		Games:   5,
		Game:    testOptions(ev),
		NewOpponent: func(worker int) (opponent.Opponent, error) {
			o := &fakeOpponent{}
			mu.Lock()
			opponents = append(opponents, o)
			mu.Unlock()
			return o, nil
		},
	}
	opts.Game.Rng = nil
	opts.Game.OpponentGames = 0.5

	ids := map[string]bool{}
	stats, err := RunPool(context.Background(), opts, func(rec *GameRecord) error {
		ids[rec.ID] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 5 || stats.Completed.Load() != 5 || stats.Failed.Load() != 0 {
		t.Fatalf("ids=%d completed=%d failed=%d", len(ids), stats.Completed.Load(), stats.Failed.Load())
	}
	if n := stats.Plies.Load(); n == 0 || n > 30 {
		t.Fatalf("plies = %d", n)
	}
	if n := stats.Draws.Load() + stats.WhiteWins.Load() + stats.BlackWins.Load(); n != 5 {
		t.Fatalf("outcomes = %d", n)
	}
	if len(opponents) != 3 {
		t.Fatalf("built %d opponents, want one per worker", len(opponents))
	}
}

func TestRunPoolIsolatesFailures(t *testing.T) {
	opts := PoolOptions{
		Workers: 2,
		Games:   4,
		Game:    testOptions(&MockPredictor{Err: errors.New("boom")}),
	}
	opts.Game.Rng = nil
	sinkCalls := 0
	stats, err := RunPool(context.Background(), opts, func(*GameRecord) error {
		sinkCalls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed.Load() != 4 || sinkCalls != 0 {
		t.Fatalf("failed=%d sink=%d", stats.Failed.Load(), sinkCalls)
	}
}

func TestRunPoolSinkErrorStops(t *testing.T) {
	opts := PoolOptions{Workers: 1, Game: testOptions(&MockPredictor{})}
	opts.Game.Rng = nil
	want := errors.New("disk full")
	_, err := RunPool(context.Background(), opts, func(*GameRecord) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestRunPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := PoolOptions{Workers: 2, Game: testOptions(&MockPredictor{})}
	opts.Game.Rng = nil
	stats, err := RunPool(ctx, opts, func(*GameRecord) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed.Load() != 0 {
		t.Fatalf("completed = %d", stats.Completed.Load())
	}
}

func TestRenderBoardAscii(t *testing.T) {
	out := RenderBoard(game.StartPosition(), termenv.Ascii)
	for _, want := range []string{
		"8 r n b q k b n r",
		"4 . . . . . . . .",
		"1 R N B Q K B N R",
		"  a b c d e f g h",
		"turn=1 castling=[1 1 1 1]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}

func TestPlayDebugGame(t *testing.T) {
	opts := testOptions(&MockPredictor{})
	opts.MaxPlies = 2
	opts.Simulations = 16
	var progress int
	dg, rec, err := PlayDebugGame(context.Background(), opts, "model.onnx", 2, func(DebugTurn) { progress++ })
	if err != nil {
		t.Fatal(err)
	}
	if len(dg.Turns) != 2 || progress != 2 || len(rec.Plies) != 2 {
		t.Fatalf("turns=%d progress=%d", len(dg.Turns), progress)
	}
	for _, turn := range dg.Turns {
		root := turn.Tree
		if root == nil || len(root.Children) == 0 {
			t.Fatalf("ply %d has no tree", turn.Ply)
		}
		for i := 1; i < len(root.Children); i++ {
			if root.Children[i].VisitCount > root.Children[i-1].VisitCount {
				t.Fatalf("children not ordered by visits")
			}
		}
	}

	path, err := WriteDebugGame(t.TempDir(), dg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, dg.GameID+".json") {
		t.Fatalf("path = %s", path)
	}
}

func mustFEN(t *testing.T, fen string) *game.Position {
	t.Helper()
	p, err := game.ParseFEN(fen)
	if err != nil {
		t.Fatal(err)
	}
	return p
}
