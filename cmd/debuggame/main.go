package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/chesszero/config"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/logging"
	"github.com/brensch/chesszero/store"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	modelPath := flag.String("model", filepath.Join("models", "chess_transformer.onnx"), "Path to ONNX model")
	outDir := flag.String("out-dir", "debug_games", "Output directory for debug games")
	sims := flag.Int("sims", 100, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	cuda := flag.Bool("cuda", true, "Enable CUDA for inference")
	depth := flag.Int("depth", 3, "Tree depth kept per ply")
	maxPlies := flag.Int("max-plies", 200, "Stop the game after this many plies")
	fen := flag.String("fen", "", "Start position (default: standard start)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.Model.Path = *modelPath
	cfg.Model.CUDA = *cuda
	cfg.Model.Require = true
	cfg.MCTS.Simulations = *sims
	cfg.MCTS.Cpuct = float32(*cpuct)
	cfg.SelfPlay.MaxPlies = *maxPlies
	if *fen != "" {
		cfg.SelfPlay.StartFENs = []string{*fen}
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info().Str("model", *modelPath).Msg("loading model")
	ev, closer, err := cfg.Evaluator(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load model")
	}
	defer closer.Close()

	opts := cfg.GameOptions()
	opts.GameID = uuid.NewString()
	opts.Source = "debug"
	opts.Evaluator = ev
	opts.Rng = rand.New(rand.NewSource(*seed))
	opts.Logger = logger

	logger.Info().Int("sims", *sims).Float64("cpuct", *cpuct).Msg("generating debug game")

	onProgress := func(t selfplay.DebugTurn) {
		fmt.Printf("  Ply %3d | %-6s | %-8s | %s\n", t.Ply, t.Move, t.Actor, t.FEN)
	}
	g, rec, err := selfplay.PlayDebugGame(ctx, opts, *modelPath, *depth, onProgress)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to generate debug game")
	}

	logger.Info().
		Int("plies", len(g.Turns)).
		Str("termination", g.Termination).
		Str("result", store.PGNResult(g.WhiteResult, true)).
		Msg("game complete")

	path, err := selfplay.WriteDebugGame(*outDir, g)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to write debug game")
	}

	fmt.Println()
	fmt.Println(selfplay.RenderBoard(rec.Final, termenv.ColorProfile()))
	fmt.Println()
	if err := store.WritePGN(os.Stdout, rec.Archive()); err != nil {
		logger.Error().Err(err).Msg("pgn")
	}
	fmt.Println()
	fmt.Printf("  Debug game written to: %s\n", path)
}
