package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brensch/chesszero/executor/emit"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/logging"
	"github.com/brensch/chesszero/rules"
	"github.com/brensch/chesszero/store"
	"github.com/rs/zerolog"
)

type exportStats struct {
	games   int
	skipped int
	failed  int
	rows    int
	shards  []string
}

func main() {
	archiveDir := flag.String("archive-dir", "data/archive", "Badger directory holding archived games")
	outDir := flag.String("out-dir", "", "Output directory for training parquet shards")
	writtenPath := flag.String("written-log", "", "Game ids already exported; defaults to <out-dir>/written.log")
	all := flag.Bool("all", false, "Export every archived game, ignoring the written log")
	source := flag.String("source", "", "Only export games from this source")
	gamesPerShard := flag.Int("games-per-shard", 500, "Games per output parquet shard")
	pgnOut := flag.String("pgn", "", "Also write every exported game to this PGN file")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	if *outDir == "" {
		fmt.Fprintln(os.Stderr, "-out-dir is required")
		os.Exit(2)
	}
	logger, err := logging.New(os.Stderr, *logLevel, "auto")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	absArchive, _ := filepath.Abs(*archiveDir)
	absOut, _ := filepath.Abs(*outDir)
	if absArchive == absOut {
		fmt.Fprintln(os.Stderr, "out-dir must be different from archive-dir")
		os.Exit(2)
	}
	if *writtenPath == "" {
		*writtenPath = filepath.Join(absOut, "written.log")
	}

	archive, err := store.OpenArchive(*archiveDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("open archive")
	}
	defer archive.Close()

	written, err := store.OpenWrittenLog(*writtenPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open written log")
	}
	defer written.Close()

	var pgn *bufio.Writer
	if *pgnOut != "" {
		f, err := os.Create(*pgnOut)
		if err != nil {
			logger.Fatal().Err(err).Msg("create pgn file")
		}
		defer f.Close()
		pgn = bufio.NewWriter(f)
		defer pgn.Flush()
	}

	st, err := export(logger, archive, written, exportOptions{
		outDir:        absOut,
		source:        *source,
		all:           *all,
		gamesPerShard: *gamesPerShard,
		pgn:           pgn,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("export")
	}
	logger.Info().
		Int("games", st.games).
		Int("skipped", st.skipped).
		Int("failed", st.failed).
		Int("rows", st.rows).
		Int("shards", len(st.shards)).
		Msg("export complete")
	if st.games == 0 {
		fmt.Fprintln(os.Stderr, "no output written (no new games)")
		os.Exit(1)
	}
}

type exportOptions struct {
	outDir        string
	source        string
	all           bool
	gamesPerShard int
	pgn           *bufio.Writer
}

// export replays archived games and writes their training rows. Games whose
// replay disagrees with the archive are logged and skipped.
func export(logger zerolog.Logger, archive *store.Archive, written *store.WrittenLog, opts exportOptions) (exportStats, error) {
	var st exportStats
	if opts.gamesPerShard <= 0 {
		opts.gamesPerShard = 500
	}

	if !opts.all {
		if n := written.ForgetMissingShards(); n > 0 {
			logger.Info().Int("games", n).Msg("shards gone from disk; games will be exported again")
		}
	}

	var bw *store.BatchWriter
	finalize := func() error {
		if bw == nil {
			return nil
		}
		shard, err := bw.Finalize()
		bw = nil
		if shard.Path != "" {
			st.shards = append(st.shards, shard.Path)
			logger.Info().Str("path", shard.Path).Int("games", len(shard.Games)).Int("rows", shard.Rows).Msg("shard written")
		}
		return err
	}

	err := archive.Each(func(row store.GameRow) error {
		if opts.source != "" && row.Source != opts.source {
			return nil
		}
		if !opts.all && written.Has(row.GameID) {
			st.skipped++
			return nil
		}
		rec, err := selfplay.Replay(row, rules.Standard{})
		if err != nil {
			st.failed++
			logger.Warn().Err(err).Str("game", row.GameID).Msg("replay failed")
			return nil
		}
		rows, err := emit.Rows(rec)
		if err != nil {
			st.failed++
			logger.Warn().Err(err).Str("game", row.GameID).Msg("emit failed")
			return nil
		}

		if bw == nil {
			if bw, err = store.NewBatchWriter(opts.outDir, written); err != nil {
				return err
			}
		}
		if err := bw.WriteGame(store.GameRef{ID: row.GameID, Source: row.Source}, rows); err != nil {
			return err
		}
		st.games++
		st.rows += len(rows)

		if opts.pgn != nil {
			if err := store.WritePGN(opts.pgn, row); err != nil {
				return fmt.Errorf("pgn %s: %w", row.GameID, err)
			}
			if _, err := opts.pgn.WriteString("\n"); err != nil {
				return err
			}
		}

		if bw.Games() >= opts.gamesPerShard {
			return finalize()
		}
		return nil
	})
	if err != nil {
		if bw != nil {
			_ = bw.Abort()
		}
		return st, err
	}
	return st, finalize()
}
