package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/brensch/chesszero/store"
)

func main() {
	dataDirs := flag.String("data-dir", "data/generated", "Comma-separated directories of training parquet shards")
	archiveDir := flag.String("archive-dir", "", "Also summarise the game archive in this directory")
	timeout := flag.Duration("timeout", 2*time.Minute, "Query timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	s, err := store.Summarize(ctx, strings.Split(*dataDirs, ",")...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "summarize shards: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Training rows:  %d\n", s.Rows)
	fmt.Printf("Games:          %d\n", s.Games)
	fmt.Printf("Mean plies:     %.1f\n", s.MeanPlies)
	if s.Rows > 0 {
		pct := func(n int64) float64 { return float64(n) / float64(s.Rows) * 100 }
		fmt.Printf("Value +1/0/-1:  %.1f%% / %.1f%% / %.1f%%\n", pct(s.Wins), pct(s.Draws), pct(s.Losses))
	}
	sources := make([]string, 0, len(s.BySource))
	for src := range s.BySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		fmt.Printf("  source %-12s %d rows\n", src, s.BySource[src])
	}

	if *archiveDir == "" {
		return
	}
	archive, err := store.OpenArchive(*archiveDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	terminations := make(map[string]int)
	opponents := 0
	total := 0
	err = archive.Each(func(row store.GameRow) error {
		total++
		terminations[row.Termination]++
		if row.Opponent != "" {
			opponents++
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan archive: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nArchived games: %d (%d with an external opponent)\n", total, opponents)
	keys := make([]string, 0, len(terminations))
	for k := range terminations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return terminations[keys[i]] > terminations[keys[j]] })
	for _, k := range keys {
		fmt.Printf("  %-22s %d\n", k, terminations[k])
	}
}
