package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// GameRef names one game written into a training shard.
type GameRef struct {
	ID     string
	Source string
}

// Entry is what the written log knows about one exported game.
type Entry struct {
	Shard  string
	Source string
}

// WrittenLog maps game IDs to the training shard holding their rows. It is
// an append-only text file of "id<TAB>source<TAB>shard" lines; a later line
// for the same id wins, so a game exported again points at its newest shard.
//
// Self-play and archive2train record games only after the shard has been
// renamed into place. A torn last line left by a crash is cut off on open.
type WrittenLog struct {
	mu      sync.RWMutex
	path    string
	file    *os.File
	entries map[string]Entry
}

// OpenWrittenLog loads path, creating it and its directory if needed.
func OpenWrittenLog(path string) (*WrittenLog, error) {
	if path == "" {
		return nil, errors.New("log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read log: %w", err)
	}
	complete := len(data)
	if i := bytes.LastIndexByte(data, '\n'); i+1 < len(data) {
		complete = i + 1
	}
	entries := parseEntries(data[:complete])

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	if complete < len(data) {
		if err := file.Truncate(int64(complete)); err != nil {
			file.Close()
			return nil, fmt.Errorf("truncate torn line: %w", err)
		}
	}
	if _, err := file.Seek(int64(complete), io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek log: %w", err)
	}

	return &WrittenLog{path: path, file: file, entries: entries}, nil
}

func parseEntries(data []byte) map[string]Entry {
	entries := make(map[string]Entry)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		id := strings.TrimSpace(fields[0])
		if id == "" {
			continue
		}
		var e Entry
		if len(fields) > 1 {
			e.Source = fields[1]
		}
		if len(fields) > 2 {
			e.Shard = fields[2]
		}
		entries[id] = e
	}
	return entries
}

func (l *WrittenLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *WrittenLog) Has(gameID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[gameID]
	return ok
}

// Lookup returns the shard and source recorded for gameID.
func (l *WrittenLog) Lookup(gameID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[gameID]
	return e, ok
}

func (l *WrittenLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// CountBySource tallies logged games per source.
func (l *WrittenLog) CountBySource() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]int)
	for _, e := range l.entries {
		out[e.Source]++
	}
	return out
}

// Record appends games as written to shard and syncs once. Games with an
// empty ID are skipped.
func (l *WrittenLog) Record(shard string, games []GameRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return errors.New("log file is closed")
	}

	var buf strings.Builder
	for _, g := range games {
		if g.ID == "" {
			continue
		}
		fmt.Fprintf(&buf, "%s\t%s\t%s\n", g.ID, g.Source, shard)
	}
	if buf.Len() == 0 {
		return nil
	}
	if _, err := l.file.WriteString(buf.String()); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	for _, g := range games {
		if g.ID != "" {
			l.entries[g.ID] = Entry{Shard: shard, Source: g.Source}
		}
	}
	return nil
}

// ForgetMissingShards drops in-memory entries whose shard file no longer
// exists, so those games count as unwritten again. Entries without a shard
// are kept. It returns how many games were forgotten.
func (l *WrittenLog) ForgetMissingShards() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	exists := make(map[string]bool)
	n := 0
	for id, e := range l.entries {
		if e.Shard == "" {
			continue
		}
		ok, seen := exists[e.Shard]
		if !seen {
			_, err := os.Stat(e.Shard)
			ok = err == nil
			exists[e.Shard] = ok
		}
		if !ok {
			delete(l.entries, id)
			n++
		}
	}
	return n
}
