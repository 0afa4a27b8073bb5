package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brensch/chesszero/config"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/logging"
	"github.com/brensch/chesszero/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", ":8080", "Listen address")
	dataDirs := flag.String("data-dir", "", "Comma-separated training shard directories (default: output.dir)")
	archiveDir := flag.String("archive-dir", "", "Game archive directory (default: output.archive_dir)")
	debugDir := flag.String("debug-dir", "debug_games", "Directory of debug game JSON files")
	refresh := flag.Duration("refresh", 30*time.Second, "How long cached indexes are served before a rebuild")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *archiveDir != "" {
		cfg.Output.ArchiveDir = *archiveDir
	}
	roots := parseDataRoots(*dataDirs)
	if len(roots) == 0 {
		roots = []string{cfg.Output.Dir}
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The archive is locked by its writer, so the viewer is run against an
	// archive that self-play is not using.
	archive, err := store.OpenArchive(cfg.Output.ArchiveDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("open archive")
	}
	defer archive.Close()

	var (
		evOnce   sync.Once
		ev       mcts.Evaluator
		evCloser io.Closer
		evErr    error
	)
	getEvaluator := func() (mcts.Evaluator, error) {
		evOnce.Do(func() {
			ev, evCloser, evErr = cfg.Evaluator(ctx, logger)
		})
		return ev, evErr
	}
	defer func() {
		if evCloser != nil {
			_ = evCloser.Close()
		}
	}()

	cache := NewIndexCache(archive, roots, *refresh, logger)
	srv := NewServer(archive, cache, *debugDir, getEvaluator, cfg.MCTSConfig(), logger)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	httpSrv := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Strs("data", roots).Str("archive", cfg.Output.ArchiveDir).Msg("viewer listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
}
