// Command uci plays the model as a UCI engine on stdin/stdout, for chess GUIs
// and bot bridges.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/chesszero/config"
	"github.com/brensch/chesszero/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	modelPath := flag.String("model", "", "ONNX model path")
	sims := flag.Int("sims", 10000, "Max MCTS simulations per move (will stop early at the time budget)")
	moveTime := flag.Duration("move-time", time.Second, "Time per move when the GUI sends no clock")
	logFile := flag.String("log-file", "", "Write logs here; stdout belongs to the protocol")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}

	logOut := os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(logOut, cfg.Log.Level, "json")
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

	e := newEngine(ev, cfg.MCTSConfig(), *sims, *moveTime, os.Stdout, logger)
	if err := e.run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("uci loop")
	}
}
