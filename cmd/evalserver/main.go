package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/chesszero/config"
	"github.com/brensch/chesszero/executor/inference"
	"github.com/brensch/chesszero/logging"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", ":8765", "Listen address")
	modelPath := flag.String("model", "", "ONNX model path")
	sessions := flag.Int("onnx-sessions", 0, "Number of ONNX Runtime sessions")
	batchSize := flag.Int("onnx-batch-size", 0, "ONNX inference batch size")
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
		case "onnx-sessions":
			cfg.Model.Sessions = *sessions
		case "onnx-batch-size":
			cfg.Model.BatchSize = *batchSize
		}
	})
	// Serving a remote evaluator from a remote evaluator is never wanted.
	cfg.Model.RemoteURL = ""
	cfg.Model.Require = true

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

	srv := inference.NewServer(ev, logger)
	mux := http.NewServeMux()
	mux.Handle("/evaluate", srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok served=%d\n", srv.Served())
	})
	httpSrv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		var last int64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := srv.Served()
				ev := logger.Info().Int64("served", n).Float64("per_sec", float64(n-last)/10)
				if sp, ok := srv.Evaluator.(interface{ Stats() inference.RuntimeStats }); ok {
					st := sp.Stats()
					ev = ev.Float64("batch_avg", st.AvgBatchSize).Float64("run_ms", st.AvgRunMs)
				}
				ev.Msg("stats")
				last = n
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", *addr).Str("model", cfg.Model.Path).Msg("evaluator server listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
}
