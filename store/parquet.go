package store

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// TrainingSchema is stamped into every training shard's metadata.
const TrainingSchema = "chess_training_row_v1"

// TrainingRow is a single supervised training sample.
//
// Tokens is the model input: 64 square tokens, side to move, then the four
// castling flags. Policy is the search distribution over the full move
// vocabulary. Value is the game outcome in [-1..1] for the side to move.
type TrainingRow struct {
	GameID string    `parquet:"game_id,dict"`
	Ply    int32     `parquet:"ply"`
	Tokens []int32   `parquet:"tokens"`
	Policy []float32 `parquet:"policy"`
	Value  float32   `parquet:"value"`
	Source string    `parquet:"source,dict"`
}

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("policy"),
		parquet.KeyValueMetadata("schema", TrainingSchema),
	}
}

// ReadTrainingParquet loads every row of a training shard.
func ReadTrainingParquet(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}
