package opponent

import (
	"context"
	"errors"
	"math/rand"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/brensch/chesszero/game"
)

func TestPickElo(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		e := PickElo(rng, 1350, 1360)
		if e < 1350 || e > 1360 {
			t.Fatalf("elo %d out of range", e)
		}
		seen[e] = true
	}
	if len(seen) != 11 {
		t.Fatalf("saw %d distinct values, want 11", len(seen))
	}
	if PickElo(rng, 1500, 1500) != 1500 {
		t.Fatal("degenerate range")
	}
}

func TestRandomPlaysLegalMoves(t *testing.T) {
	r := NewRandom(3)
	if err := r.NewGame(rand.New(rand.NewSource(4))); err != nil {
		t.Fatal(err)
	}
	pos := game.StartPosition()
	m, err := r.ChooseMove(context.Background(), pos, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !isLegal(pos, m) {
		t.Fatalf("illegal move %s", m)
	}
}

func TestStockfishMissingBinary(t *testing.T) {
	cfg := DefaultStockfishConfig()
	cfg.Path = filepath.Join(t.TempDir(), "no-such-engine")
	_, err := NewStockfish(cfg)
	if !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("err = %v, want ErrAdapterUnavailable", err)
	}
}

func TestStockfishNotRunning(t *testing.T) {
	s := &Stockfish{cfg: DefaultStockfishConfig()}
	_, err := s.ChooseMove(context.Background(), game.StartPosition(), time.Millisecond)
	if !errors.Is(err, ErrAdapterUnavailable) {
		t.Fatalf("err = %v, want ErrAdapterUnavailable", err)
	}
}

func stockfishOrSkip(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("stockfish")
	if err != nil {
		t.Skip("stockfish not on PATH; skipping")
	}
	return path
}

func TestSearchTime(t *testing.T) {
	tests := []struct {
		budget, reserve, want time.Duration
	}{
		{100 * time.Millisecond, 0, 80 * time.Millisecond},
		{time.Second, 50 * time.Millisecond, 950 * time.Millisecond},
		{100 * time.Millisecond, time.Second, 50 * time.Millisecond},
		{2 * time.Millisecond, 0, 1600 * time.Microsecond},
		{0, 0, time.Millisecond},
	}
	for _, tt := range tests {
		if got := searchTime(tt.budget, tt.reserve); got != tt.want {
			t.Errorf("searchTime(%v, %v) = %v, want %v", tt.budget, tt.reserve, got, tt.want)
		}
	}
}

func TestStockfishIntegration(t *testing.T) {
	cfg := DefaultStockfishConfig()
	cfg.Path = stockfishOrSkip(t)
	cfg.EloMin, cfg.EloMax = 1350, 1500
	cfg.MaxMoves = 1

	s, err := NewStockfish(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.NewGame(rand.New(rand.NewSource(1))); err != nil {
		t.Fatal(err)
	}
	if s.Elo() < 1350 || s.Elo() > 1500 {
		t.Fatalf("elo = %d", s.Elo())
	}

	pos := game.StartPosition()
	budget := 500 * time.Millisecond
	start := time.Now()
	m, err := s.ChooseMove(context.Background(), pos, budget)
	if err != nil {
		t.Fatal(err)
	}
	if took := time.Since(start); took > budget {
		t.Fatalf("move took %v, budget %v", took, budget)
	}
	if !isLegal(pos, m) {
		t.Fatalf("illegal move %s", m)
	}

	if _, err := s.ChooseMove(context.Background(), pos, 50*time.Millisecond); !errors.Is(err, ErrMoveCapReached) {
		t.Fatalf("err = %v, want ErrMoveCapReached", err)
	}
}
