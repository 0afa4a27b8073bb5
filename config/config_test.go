package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brensch/chesszero/executor/inference"
	"github.com/rs/zerolog"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `
mcts:
  simulations: 64
  reuse_tree: true
selfplay:
  workers: 4
  temperature:
    initial: 1.0
    final: 0.1
    plies: 12
  start_fens:
    - "4k3/8/8/8/8/8/4P3/4K3 w - - 0 1"
opponent:
  enabled: true
  move_time: 250ms
  reserve: 40ms
  game_fraction: 0.5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MCTS.Simulations != 64 || !cfg.MCTS.ReuseTree || cfg.SelfPlay.Workers != 4 {
		t.Fatalf("overrides lost: %+v", cfg)
	}
	if cfg.MCTS.Cpuct != Default().MCTS.Cpuct {
		t.Fatalf("untouched default changed: cpuct %v", cfg.MCTS.Cpuct)
	}
	if cfg.Opponent.MoveTime != 250*time.Millisecond {
		t.Fatalf("move_time = %v", cfg.Opponent.MoveTime)
	}

	opts := cfg.GameOptions()
	if opts.Simulations != 64 || !opts.MCTS.ReuseTree || opts.Schedule.At(12) != 0.1 {
		t.Fatalf("game options %+v", opts)
	}
	if opts.OpponentGames != 0.5 || opts.OpponentPlies != 1 || len(opts.StartFENs) != 1 {
		t.Fatalf("opponent options %v/%v", opts.OpponentGames, opts.OpponentPlies)
	}

	sf := cfg.StockfishConfig(zerolog.Nop())
	if sf.MoveTime != 250*time.Millisecond || sf.Reserve != 40*time.Millisecond || sf.EloMin != 1350 {
		t.Fatalf("stockfish config %+v", sf)
	}
}

func TestOpponentDisabledByDefault(t *testing.T) {
	if opts := Default().GameOptions(); opts.OpponentGames != 0 {
		t.Fatalf("opponent games = %v", opts.OpponentGames)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MCTS.Simulations != Default().MCTS.Simulations {
		t.Fatal("empty path should give defaults")
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	cfg := Default()
	if err := cfg.Decode([]byte("mcts:\n  simulatons: 5\n")); err == nil {
		t.Fatal("typo accepted")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.MCTS.Simulations = 0
	cfg.Opponent.GameFraction = 2
	cfg.Arena.ModelColor = "green"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"mcts.simulations", "opponent.game_fraction", "arena.model_color"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestEmptyDocument(t *testing.T) {
	cfg := Default()
	if err := cfg.Decode(nil); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluatorFallsBackToUniform(t *testing.T) {
	cfg := Default()
	cfg.Model.Path = filepath.Join(t.TempDir(), "missing.onnx")
	ev, closer, err := cfg.Evaluator(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	if _, ok := ev.(inference.Uniform); !ok {
		t.Fatalf("evaluator = %T", ev)
	}

	cfg.Model.Require = true
	if _, _, err := cfg.Evaluator(context.Background(), zerolog.Nop()); err == nil {
		t.Fatal("missing required model accepted")
	}
}
