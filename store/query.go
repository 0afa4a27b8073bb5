package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Summary describes a directory of training shards.
type Summary struct {
	Rows      int64
	Games     int64
	MeanPlies float64
	// Rows bucketed by outcome for the side to move.
	Wins, Draws, Losses int64
	BySource            map[string]int64
}

// OpenShards returns an in-memory DuckDB with a "samples" view over every
// committed parquet shard below the given roots. Shards still sitting in a
// writer's tmp directory are excluded.
func OpenShards(roots ...string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		glob := filepath.Join(root, "**", "*.parquet")
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
	}
	if len(globs) == 0 {
		_ = db.Close()
		return nil, fmt.Errorf("no shard roots given")
	}

	sqlText := `CREATE OR REPLACE VIEW samples AS
		SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)
		WHERE NOT regexp_matches(filename, '/tmp/[^/]*$')`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create samples view: %w", err)
	}
	return db, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Summarize aggregates the shards below roots.
func Summarize(ctx context.Context, roots ...string) (Summary, error) {
	db, err := OpenShards(roots...)
	if err != nil {
		return Summary{}, err
	}
	defer db.Close()

	var s Summary
	var mean sql.NullFloat64
	err = db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT game_id),
			COUNT(*)::DOUBLE / NULLIF(COUNT(DISTINCT game_id), 0),
			COUNT(*) FILTER (WHERE value > 0),
			COUNT(*) FILTER (WHERE value = 0),
			COUNT(*) FILTER (WHERE value < 0)
		FROM samples`).Scan(&s.Rows, &s.Games, &mean, &s.Wins, &s.Draws, &s.Losses)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	s.MeanPlies = mean.Float64

	rows, err := db.QueryContext(ctx, `SELECT source, COUNT(*) FROM samples GROUP BY source ORDER BY source`)
	if err != nil {
		return Summary{}, fmt.Errorf("by source: %w", err)
	}
	defer rows.Close()
	s.BySource = make(map[string]int64)
	for rows.Next() {
		var src sql.NullString
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return Summary{}, err
		}
		s.BySource[src.String] += n
	}
	return s, rows.Err()
}
