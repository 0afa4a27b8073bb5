package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/chesszero/config"
	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/emit"
	"github.com/brensch/chesszero/executor/inference"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/logging"
	"github.com/brensch/chesszero/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

var totalInferences atomic.Int64

type instrumentedEvaluator struct {
	mcts.Evaluator
}

func (e instrumentedEvaluator) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	totalInferences.Add(1)
	return e.Evaluator.Evaluate(ctx, in)
}

type GameUpdate struct {
	GameID      string
	Termination string
	Result      string
	Plies       int
	Examples    int
	Opponent    string
	Degraded    int
}

type gameWriteRequest struct {
	game store.GameRef
	rows []store.TrainingRow
}

type model struct {
	gamesPlayed   int
	totalExamples int
	stats         *selfplay.PoolStats
	inferences    int64
	runtime       func() (inference.RuntimeStats, bool)
	startTime     time.Time
	recentGames   []string
	updates       chan GameUpdate
}

func initialModel(updates chan GameUpdate, stats *selfplay.PoolStats, runtime func() (inference.RuntimeStats, bool)) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		stats:     stats,
		runtime:   runtime,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.inferences = totalInferences.Load()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += msg.Examples
		line := fmt.Sprintf("%s  %-7s %-22s plies=%-3d ex=%d", msg.GameID[:8], msg.Result, msg.Termination, msg.Plies, msg.Examples)
		if msg.Opponent != "" {
			line += fmt.Sprintf("  vs %s", msg.Opponent)
			if msg.Degraded > 0 {
				line += fmt.Sprintf(" (degraded %d)", msg.Degraded)
			}
		}
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	plies := m.stats.Plies.Load()
	secs := duration.Seconds()
	if secs < 1 {
		secs = 0
	}
	rate := func(n int64) float64 {
		if secs == 0 {
			return 0
		}
		return float64(n) / secs
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Games Played:     %d (failed %d)\n", m.gamesPlayed, m.stats.Failed.Load())
	fmt.Fprintf(&b, "Outcomes W/D/B:   %d / %d / %d\n", m.stats.WhiteWins.Load(), m.stats.Draws.Load(), m.stats.BlackWins.Load())
	fmt.Fprintf(&b, "Total Examples:   %d\n", m.totalExamples)
	fmt.Fprintf(&b, "Total Plies:      %d (degraded %d)\n", plies, m.stats.Degraded.Load())
	fmt.Fprintf(&b, "Total Inferences: %d\n", m.inferences)
	fmt.Fprintf(&b, "Duration:         %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Games/Sec:        %.2f\n", rate(int64(m.gamesPlayed)))
	fmt.Fprintf(&b, "Plies/Sec:        %.2f\n", rate(plies))
	fmt.Fprintf(&b, "Inferences/Sec:   %.2f\n", rate(m.inferences))
	if st, ok := m.runtime(); ok {
		fmt.Fprintf(&b, "Batch:            avg=%.1f last=%d queue=%d run=%.2fms\n", st.AvgBatchSize, st.LastBatchSize, st.QueueLen, st.AvgRunMs)
	}

	b.WriteString("\nRecent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(g + "\n")
	}

	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

func main() {
	configPath := flag.String("config", "", "YAML config file; flags override it")
	outDir := flag.String("out-dir", "", "Output directory for generated training parquet batches")
	archiveDir := flag.String("archive-dir", "", "Badger directory for the game archive (empty keeps the config value)")
	workers := flag.Int("workers", 0, "Number of self-play workers")
	gamesPerFlush := flag.Int("games-per-flush", 0, "Number of games to buffer per parquet flush")
	maxGames := flag.Int("max-games", 0, "If > 0, stop after generating this many games (across all workers)")
	modelPath := flag.String("model", "", "ONNX model path")
	remoteURL := flag.String("remote", "", "Evaluator server websocket URL (ws://host:port/evaluate)")
	onnxSessions := flag.Int("onnx-sessions", 0, "Number of ONNX Runtime sessions to run in parallel (each has its own batching loop)")
	onnxBatchSize := flag.Int("onnx-batch-size", 0, "ONNX inference batch size (larger can improve GPU utilization)")
	onnxBatchTimeout := flag.Duration("onnx-batch-timeout", 0, "Max time to wait for filling an ONNX batch")
	simulations := flag.Int("sims", 0, "MCTS simulations per move")
	stockfishPath := flag.String("stockfish", "", "Path to a UCI engine; enables the external opponent")
	opponentFraction := flag.Float64("opponent-games", -1, "Fraction of games that seat the external opponent")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	useTUI := flag.Bool("tui", false, "Show the interactive progress display")
	verbose := flag.Bool("verbose", false, "Log every ply with its search breakdown")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out-dir":
			cfg.Output.Dir = *outDir
		case "archive-dir":
			cfg.Output.ArchiveDir = *archiveDir
		case "workers":
			cfg.SelfPlay.Workers = *workers
		case "games-per-flush":
			cfg.Output.GamesPerFlush = *gamesPerFlush
		case "max-games":
			cfg.SelfPlay.Games = *maxGames
		case "model":
			cfg.Model.Path = *modelPath
		case "remote":
			cfg.Model.RemoteURL = *remoteURL
		case "onnx-sessions":
			cfg.Model.Sessions = *onnxSessions
		case "onnx-batch-size":
			cfg.Model.BatchSize = *onnxBatchSize
		case "onnx-batch-timeout":
			cfg.Model.BatchTimeout = *onnxBatchTimeout
		case "sims":
			cfg.MCTS.Simulations = *simulations
		case "stockfish":
			cfg.Opponent.Path = *stockfishPath
			cfg.Opponent.Enabled = true
		case "opponent-games":
			cfg.Opponent.GameFraction = *opponentFraction
		case "log-level":
			cfg.Log.Level = *logLevel
		case "verbose":
			cfg.SelfPlay.Verbose = *verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// The TUI owns the terminal, so logs go to a file while it runs.
	logOut := os.Stderr
	logFormat := cfg.Log.Format
	if *useTUI {
		f, err := os.OpenFile("selfplay.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
		logFormat = "json"
	}
	logger, err := logging.New(logOut, cfg.Log.Level, logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	ev, closer, err := cfg.Evaluator(ctx, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluator")
	}
	defer closer.Close()
	runtimeStats := func() (inference.RuntimeStats, bool) {
		if sp, ok := ev.(interface{ Stats() inference.RuntimeStats }); ok {
			return sp.Stats(), true
		}
		return inference.RuntimeStats{}, false
	}

	archive, err := store.OpenArchive(cfg.Output.ArchiveDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("open archive")
	}
	defer archive.Close()

	written, err := store.OpenWrittenLog(cfg.Output.WrittenLog)
	if err != nil {
		logger.Fatal().Err(err).Msg("open written log")
	}
	defer written.Close()

	gameOpts := cfg.GameOptions()
	gameOpts.Evaluator = instrumentedEvaluator{Evaluator: ev}

	poolOpts := selfplay.PoolOptions{
		Workers: cfg.SelfPlay.Workers,
		Games:   cfg.SelfPlay.Games,
		Game:    gameOpts,
		Stats:   &selfplay.PoolStats{},
		Logger:  logger,
	}
	if cfg.Opponent.Enabled && cfg.Opponent.GameFraction > 0 {
		sfCfg := cfg.StockfishConfig(logger)
		poolOpts.NewOpponent = func(worker int) (opponent.Opponent, error) {
			c := sfCfg
			c.Logger = logger.With().Int("worker", worker).Str("component", "stockfish").Logger()
			return opponent.NewStockfish(c)
		}
	}

	logger.Info().
		Int("workers", poolOpts.Workers).
		Int("games", poolOpts.Games).
		Int("sims", gameOpts.Simulations).
		Float64("opponent_games", gameOpts.OpponentGames).
		Str("out_dir", cfg.Output.Dir).
		Msg("starting self-play")

	// Each search has at most one evaluation in flight.
	if cfg.Model.BatchSize > poolOpts.Workers && cfg.Model.RemoteURL == "" {
		logger.Info().Int("batch", cfg.Model.BatchSize).Int("workers", poolOpts.Workers).
			Msg("batch size exceeds max in-flight evaluations; batches will rarely fill")
	}

	updates := make(chan GameUpdate, poolOpts.Workers)
	writeReqs := make(chan gameWriteRequest, poolOpts.Workers*4)
	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(logger, cfg.Output.Dir, cfg.Output.GamesPerFlush, written, writeReqs)
		close(writerDone)
	}()

	sink := func(rec *selfplay.GameRecord) error {
		if err := archive.Put(rec.Archive()); err != nil {
			return fmt.Errorf("archive game %s: %w", rec.ID, err)
		}
		rows, err := emit.Rows(rec)
		if err != nil {
			logger.Warn().Err(err).Str("game", rec.ID).Msg("emit failed; game kept in archive only")
			return nil
		}
		writeReqs <- gameWriteRequest{game: store.GameRef{ID: rec.ID, Source: rec.Source}, rows: rows}

		// Avoid blocking the pool if the display stops consuming.
		select {
		case updates <- GameUpdate{
			GameID:      rec.ID,
			Termination: rec.Termination(),
			Result:      store.PGNResult(rec.WhiteResult(), true),
			Plies:       len(rec.Plies),
			Examples:    len(rows),
			Opponent:    rec.Opponent,
			Degraded:    rec.DegradedPlies(),
		}:
		default:
		}
		return nil
	}

	poolDone := make(chan error, 1)
	go func() {
		_, err := selfplay.RunPool(ctx, poolOpts, sink)
		poolDone <- err
	}()

	finish := func(err error) {
		close(writeReqs)
		<-writerDone
		if err != nil {
			logger.Error().Err(err).Msg("self-play stopped")
		}
		logger.Info().
			Int64("games", poolOpts.Stats.Completed.Load()).
			Int64("failed", poolOpts.Stats.Failed.Load()).
			Msg("shutdown complete: final parquet flush done")
	}

	if *useTUI {
		p := tea.NewProgram(initialModel(updates, poolOpts.Stats, runtimeStats), tea.WithAltScreen())
		go func() {
			err := <-poolDone
			poolDone <- err
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			logger.Error().Err(err).Msg("tui")
		}
		cancel()
		finish(<-poolDone)
		return
	}

	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-poolDone:
			finish(err)
			return
		case u := <-updates:
			logger.Info().
				Str("game", u.GameID).
				Str("result", u.Result).
				Str("termination", u.Termination).
				Int("plies", u.Plies).
				Int("examples", u.Examples).
				Str("opponent", u.Opponent).
				Int("degraded", u.Degraded).
				Msg("game finished")
		case <-ticker.C:
			logStats(logger, time.Since(startTime), poolOpts.Stats, runtimeStats)
		}
	}
}

func logStats(logger zerolog.Logger, elapsed time.Duration, stats *selfplay.PoolStats, runtime func() (inference.RuntimeStats, bool)) {
	secs := elapsed.Seconds()
	ev := logger.Info().
		Int64("games", stats.Completed.Load()).
		Int64("failed", stats.Failed.Load()).
		Float64("plies_per_sec", float64(stats.Plies.Load())/secs).
		Float64("inf_per_sec", float64(totalInferences.Load())/secs)
	if st, ok := runtime(); ok {
		ev = ev.Float64("batch_avg", st.AvgBatchSize).
			Int64("batch_last", st.LastBatchSize).
			Int("queue", st.QueueLen).
			Float64("run_ms", st.AvgRunMs)
	}
	ev.Msg("stats")
}

// parquetWriterLoop batches games into parquet shards. The batch writer
// records game ids in the written log once their shard is on disk.
func parquetWriterLoop(logger zerolog.Logger, outDir string, gamesPerFlush int, written *store.WrittenLog, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	var bw *store.BatchWriter
	flush := func(final bool) {
		shard, err := bw.Finalize()
		bw = nil
		ev := logger.Info()
		if err != nil {
			ev = logger.Error().Err(err)
		}
		ev.Bool("final", final).Str("path", shard.Path).Int("games", len(shard.Games)).Int("rows", shard.Rows).Msg("parquet flush")
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		if bw == nil {
			var err error
			if bw, err = store.NewBatchWriter(outDir, written); err != nil {
				logger.Error().Err(err).Str("game", req.game.ID).Msg("open shard; game kept in archive only")
				continue
			}
		}
		if err := bw.WriteGame(req.game, req.rows); err != nil {
			logger.Error().Err(err).Str("game", req.game.ID).Msg("write game; game kept in archive only")
			continue
		}
		if bw.Games() >= gamesPerFlush {
			flush(false)
		}
	}
	if bw != nil {
		flush(true)
	}
}
