package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/brensch/chesszero/config"
	"github.com/brensch/chesszero/executor/arena"
	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/logging"
)

func parseLevels(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 || n > 20 {
			return nil, fmt.Errorf("bad skill level %q", f)
		}
		out = append(out, n)
	}
	return out, nil
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	modelPath := flag.String("model", "", "ONNX model path")
	stockfishPath := flag.String("stockfish", "", "Path to the stockfish binary")
	levels := flag.String("levels", "", "Comma-separated skill levels (default 1,3,5,7,10)")
	games := flag.Int("games", 0, "Games per colour at each level")
	sims := flag.Int("sims", 0, "MCTS simulations per move")
	moveTime := flag.Duration("move-time", 0, "Stockfish time per move")
	outDir := flag.String("out-dir", "", "Directory for PGNs and the summary")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Model.Path = *modelPath
		case "stockfish":
			cfg.Opponent.Path = *stockfishPath
		case "games":
			cfg.Arena.GamesPerColor = *games
		case "sims":
			cfg.Arena.Simulations = *sims
		case "move-time":
			cfg.Opponent.MoveTime = *moveTime
		case "out-dir":
			cfg.Arena.OutDir = *outDir
		}
	})
	if *levels != "" {
		if cfg.Arena.Levels, err = parseLevels(*levels); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	cfg.Model.Require = true
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ev, closer, err := cfg.Evaluator(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluator")
	}
	defer closer.Close()

	m := arena.DefaultMatch()
	m.Evaluator = ev
	m.Simulations = cfg.Arena.Simulations
	m.MCTS = cfg.MCTSConfig()
	m.MCTS.Dirichlet = false
	m.Temperature = cfg.Arena.Temperature
	m.MaxPlies = cfg.Arena.MaxPlies
	m.OpponentBudget = cfg.Opponent.MoveTime
	m.Rng = rand.New(rand.NewSource(*seed))
	m.Logger = logger

	sfCfg := cfg.StockfishConfig(logger)
	// Ladder strength comes from the skill level, not a sampled Elo.
	sfCfg.EloMin, sfCfg.EloMax = 0, 0
	sfCfg.MaxMoves = 0

	ladder := arena.Ladder{
		Levels:        cfg.Arena.Levels,
		GamesPerColor: cfg.Arena.GamesPerColor,
		Match:         m,
		NewOpponent: func(skill int) (opponent.Opponent, error) {
			c := sfCfg
			c.SkillLevel = skill
			return opponent.NewStockfish(c)
		},
		OutDir:    cfg.Arena.OutDir,
		ModelPath: cfg.Model.Path,
	}

	logger.Info().Ints("levels", ladder.Levels).Int("games_per_color", ladder.GamesPerColor).Msg("starting evaluation")
	results, err := arena.RunSkillLadder(ctx, ladder)
	if err != nil {
		logger.Error().Err(err).Msg("evaluation stopped")
	}
	if len(results) > 0 {
		fmt.Println()
		_ = arena.WriteReport(os.Stdout, cfg.Model.Path, time.Now(), results)
	}
	if err != nil {
		os.Exit(1)
	}
}
