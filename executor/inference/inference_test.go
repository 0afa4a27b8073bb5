package inference

import (
	"context"
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/rs/zerolog"
)

func startEncoded(t *testing.T) *convert.Encoded {
	t.Helper()
	in, err := convert.Encode(game.StartPosition())
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func TestSoftmax(t *testing.T) {
	out := make([]float32, 3)
	Softmax(out, []float32{1, 2, 3})
	var sum float32
	for _, v := range out {
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-6 {
		t.Fatalf("sum = %v", sum)
	}
	if !(out[2] > out[1] && out[1] > out[0]) {
		t.Fatalf("order wrong: %v", out)
	}

	// Large logits must not overflow.
	Softmax(out, []float32{1000, 1000, -1000})
	if math.Abs(float64(out[0])-0.5) > 1e-6 || out[2] != 0 {
		t.Fatalf("large logits: %v", out)
	}
}

func TestWinrateToValue(t *testing.T) {
	cases := map[float32]float32{0: -1, 0.5: 0, 1: 1, 0.75: 0.5, 1.2: 1}
	for in, want := range cases {
		if got := WinrateToValue(in); math.Abs(float64(got-want)) > 1e-6 {
			t.Errorf("WinrateToValue(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestUniform(t *testing.T) {
	pred, err := Uniform{}.Evaluate(context.Background(), startEncoded(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(pred.Policy) != game.VocabSize {
		t.Fatalf("policy len %d", len(pred.Policy))
	}
	for i := 0; i < game.NumReserved; i++ {
		if pred.Policy[i] != 0 {
			t.Fatalf("reserved token %d has mass", i)
		}
	}
	if pred.Value != 0 {
		t.Fatalf("value = %v", pred.Value)
	}

	// The result is a copy.
	pred.Policy[10] = 5
	again, _ := Uniform{}.Evaluate(context.Background(), startEncoded(t))
	if again.Policy[10] == 5 {
		t.Fatal("uniform policy shared between calls")
	}
}

func TestUniformDrivesSearch(t *testing.T) {
	m := mcts.New(mcts.DefaultConfig(), Uniform{}, rules.Standard{}, nil)
	stats, err := m.Search(context.Background(), game.StartPosition(), 32)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats.Moves) != 20 {
		t.Fatalf("moves = %d", len(stats.Moves))
	}
}

// fixedEvaluator puts all mass on one move.
type fixedEvaluator struct {
	move  game.Move
	value float32
}

func (f fixedEvaluator) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	if in.Turn() != 1 {
		return mcts.Prediction{}, errors.New("expected white to move")
	}
	p := make([]float32, game.VocabSize)
	p[f.move] = 1
	return mcts.Prediction{Policy: p, Value: f.value}, nil
}

func startServer(t *testing.T, ev mcts.Evaluator) (*Server, string) {
	t.Helper()
	srv := NewServer(ev, zerolog.Nop())
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func TestRemoteRoundTrip(t *testing.T) {
	want := game.MustParseMove("e2e4")
	srv, url := startServer(t, fixedEvaluator{move: want, value: 0.25})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := DialRemote(ctx, url, RemoteConfig{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	in := startEncoded(t)
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pred, err := client.Evaluate(ctx, in)
			if err != nil {
				errs <- err
				return
			}
			if pred.Policy[want] != 1 || pred.Value != 0.25 {
				errs <- errors.New("unexpected prediction")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if srv.Served() != 16 {
		t.Fatalf("served = %d", srv.Served())
	}
}

func TestRemoteEvaluatorError(t *testing.T) {
	_, url := startServer(t, mcts.EvaluatorFunc(func(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
		return mcts.Prediction{}, errors.New("model exploded")
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := DialRemote(ctx, url, RemoteConfig{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.Evaluate(ctx, startEncoded(t))
	if err == nil || !strings.Contains(err.Error(), "model exploded") {
		t.Fatalf("err = %v", err)
	}
}

func TestServerCancelsWorkOnDisconnect(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	srv, url := startServer(t, mcts.EvaluatorFunc(func(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return mcts.Prediction{}, ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := DialRemote(ctx, url, RemoteConfig{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	go client.Evaluate(ctx, startEncoded(t))

	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("request never reached the evaluator")
	}
	client.Close()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("evaluation kept running after the client left")
	}
	if srv.Served() != 0 {
		t.Fatalf("served = %d", srv.Served())
	}
}

func TestRemoteAfterDisconnect(t *testing.T) {
	_, url := startServer(t, Uniform{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := DialRemote(ctx, url, RemoteConfig{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	client.conn.Close()
	<-client.done

	if _, err := client.Evaluate(ctx, startEncoded(t)); !errors.Is(err, ErrRemoteClosed) {
		t.Fatalf("err = %v, want ErrRemoteClosed", err)
	}
}
