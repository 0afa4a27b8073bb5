package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

// ErrGameNotFound is returned by Archive.Get for unknown game IDs.
var ErrGameNotFound = errors.New("game not found")

const gameKeyPrefix = "game/"

// GameRow is the archived form of a finished game: enough to replay it move
// by move and re-derive training examples under a different labelling.
type GameRow struct {
	GameID   string `json:"game_id"`
	Source   string `json:"source"`
	StartFEN string `json:"start_fen"`

	Plies []PlyRow `json:"plies"`

	Status      string `json:"status"`
	Termination string `json:"termination"`
	// Result is from White's point of view: 1, 0 or -1.
	Result   float32 `json:"result"`
	Opponent string  `json:"opponent,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// PlyRow is one move with the root statistics of the search behind it.
// Moves holds vocabulary indices parallel to Visits and Policy.
type PlyRow struct {
	Move      string    `json:"move"`
	Actor     string    `json:"actor"`
	Degraded  bool      `json:"degraded,omitempty"`
	Moves     []int32   `json:"moves"`
	Visits    []int32   `json:"visits"`
	Policy    []float32 `json:"policy"`
	RootValue float32   `json:"root_value"`
}

// Archive stores GameRows in badger, keyed by game ID, as zstd-compressed JSON.
type Archive struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenArchive opens (or creates) an archive in dir. An empty dir gives an
// in-memory archive.
func OpenArchive(dir string) (*Archive, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive %q: %w", dir, err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Archive{db: db, encoder: encoder, decoder: decoder}, nil
}

func (a *Archive) Close() error {
	a.decoder.Close()
	_ = a.encoder.Close()
	return a.db.Close()
}

func gameKey(id string) []byte { return []byte(gameKeyPrefix + id) }

func (a *Archive) encode(row GameRow) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("marshal game %s: %w", row.GameID, err)
	}
	return a.encoder.EncodeAll(data, nil), nil
}

func (a *Archive) decode(val []byte) (GameRow, error) {
	var row GameRow
	data, err := a.decoder.DecodeAll(val, nil)
	if err != nil {
		return row, fmt.Errorf("decompress game: %w", err)
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return row, fmt.Errorf("unmarshal game: %w", err)
	}
	return row, nil
}

// Put stores rows in one transaction, overwriting earlier versions.
func (a *Archive) Put(rows ...GameRow) error {
	return a.db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			if row.GameID == "" {
				return fmt.Errorf("game id is empty")
			}
			val, err := a.encode(row)
			if err != nil {
				return err
			}
			if err := txn.Set(gameKey(row.GameID), val); err != nil {
				return fmt.Errorf("store game %s: %w", row.GameID, err)
			}
		}
		return nil
	})
}

func (a *Archive) Get(id string) (GameRow, error) {
	var row GameRow
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(gameKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrGameNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			row, err = a.decode(val)
			return err
		})
	})
	return row, err
}

// Each calls fn for every archived game in key order. Returning an error from
// fn stops the walk.
func (a *Archive) Each(fn func(GameRow) error) error {
	return a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(gameKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var row GameRow
			err := it.Item().Value(func(val []byte) error {
				var derr error
				row, derr = a.decode(val)
				return derr
			})
			if err != nil {
				return fmt.Errorf("read %s: %w", it.Item().Key(), err)
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of archived games.
func (a *Archive) Count() (int, error) {
	n := 0
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(gameKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
