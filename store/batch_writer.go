package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Shard describes a training shard that Finalize moved into place.
type Shard struct {
	Path  string
	Rows  int
	Games []GameRef
}

// BatchWriter streams whole games into one training shard. The shard is
// written under outDir/tmp and only renamed into outDir by Finalize, after
// which its games are recorded in the written log, if one was given.
type BatchWriter struct {
	log *WrittenLog

	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	games []GameRef
	rows  int
}

// NewBatchWriter opens a fresh shard in outDir. log may be nil.
func NewBatchWriter(outDir string, log *WrittenLog) (*BatchWriter, error) {
	if outDir == "" {
		return nil, errors.New("outDir is required")
	}
	absOut, err := filepath.Abs(outDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", outDir, err)
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("games_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	return &BatchWriter{
		log:     log,
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  parquet.NewGenericWriter[TrainingRow](f, writeOptions()...),
	}, nil
}

func (b *BatchWriter) TmpPath() string { return b.tmpPath }
func (b *BatchWriter) OutPath() string { return b.outPath }
func (b *BatchWriter) Games() int      { return len(b.games) }
func (b *BatchWriter) Rows() int       { return b.rows }

// WriteGame appends one game's rows. Every row must belong to game.ID; a game
// with no rows is still counted so it is logged as handled.
func (b *BatchWriter) WriteGame(game GameRef, rows []TrainingRow) error {
	if b.writer == nil {
		return errors.New("batch writer is closed")
	}
	for i := range rows {
		if rows[i].GameID != game.ID {
			return fmt.Errorf("row %d belongs to game %q, not %q", i, rows[i].GameID, game.ID)
		}
	}
	if len(rows) > 0 {
		if _, err := b.writer.Write(rows); err != nil {
			return fmt.Errorf("write game %s: %w", game.ID, err)
		}
	}
	b.games = append(b.games, game)
	b.rows += len(rows)
	return nil
}

func (b *BatchWriter) close() error {
	var closeErr, fileErr error
	if b.writer != nil {
		closeErr = b.writer.Close()
		b.writer = nil
	}
	if b.file != nil {
		_ = b.file.Sync()
		fileErr = b.file.Close()
		b.file = nil
	}
	if closeErr != nil {
		return fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close parquet file: %w", fileErr)
	}
	return nil
}

// Finalize closes the shard, moves it into outDir and records its games.
// A shard with no rows is removed and a zero Shard returned. If the log
// update fails the shard stays in place and the error is returned with it.
func (b *BatchWriter) Finalize() (Shard, error) {
	if b.writer == nil && b.file == nil {
		return Shard{}, nil
	}
	if err := b.close(); err != nil {
		_ = os.Remove(b.tmpPath)
		return Shard{}, err
	}
	if b.rows == 0 {
		_ = os.Remove(b.tmpPath)
		return Shard{}, nil
	}
	if err := os.Rename(b.tmpPath, b.outPath); err != nil {
		return Shard{}, fmt.Errorf("rename parquet: %w", err)
	}
	shard := Shard{Path: b.outPath, Rows: b.rows, Games: b.games}
	if b.log != nil {
		if err := b.log.Record(b.outPath, b.games); err != nil {
			return shard, fmt.Errorf("record shard games: %w", err)
		}
	}
	return shard, nil
}

// Abort discards the shard without publishing or logging anything.
func (b *BatchWriter) Abort() error {
	err := b.close()
	if rmErr := os.Remove(b.tmpPath); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
