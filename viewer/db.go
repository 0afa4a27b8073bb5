package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/store"
	"github.com/rs/zerolog"
)

// IndexCache holds the archive game index and the shard summary, rebuilding
// each at most once per refreshRate.
type IndexCache struct {
	archive     *store.Archive
	roots       []string
	refreshRate time.Duration
	logger      zerolog.Logger

	mu          sync.RWMutex
	games       []GameSummary
	gamesTime   time.Time
	summary     store.Summary
	summaryTime time.Time
}

func NewIndexCache(archive *store.Archive, roots []string, refreshRate time.Duration, logger zerolog.Logger) *IndexCache {
	return &IndexCache{
		archive:     archive,
		roots:       roots,
		refreshRate: refreshRate,
		logger:      logger,
	}
}

// Games returns every archived game, newest first.
func (c *IndexCache) Games() ([]GameSummary, error) {
	c.mu.RLock()
	if c.games != nil && time.Since(c.gamesTime) < c.refreshRate {
		games := c.games
		c.mu.RUnlock()
		return games, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.games != nil && time.Since(c.gamesTime) < c.refreshRate {
		return c.games, nil
	}

	start := time.Now()
	games := make([]GameSummary, 0, len(c.games))
	err := c.archive.Each(func(row store.GameRow) error {
		games = append(games, summarize(row))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(games, func(i, j int) bool {
		return games[i].StartedAt.After(games[j].StartedAt)
	})
	c.games = games
	c.gamesTime = time.Now()
	c.logger.Debug().Int("games", len(games)).Dur("took", time.Since(start)).Msg("games index rebuilt")
	return games, nil
}

// Summary returns the shard summary and when it was computed.
func (c *IndexCache) Summary(ctx context.Context) (store.Summary, time.Time, error) {
	c.mu.RLock()
	if !c.summaryTime.IsZero() && time.Since(c.summaryTime) < c.refreshRate {
		s, at := c.summary, c.summaryTime
		c.mu.RUnlock()
		return s, at, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.summaryTime.IsZero() && time.Since(c.summaryTime) < c.refreshRate {
		return c.summary, c.summaryTime, nil
	}
	s, err := store.Summarize(ctx, c.roots...)
	if err != nil {
		return store.Summary{}, time.Time{}, err
	}
	c.summary, c.summaryTime = s, time.Now()
	return s, c.summaryTime, nil
}

func summarize(row store.GameRow) GameSummary {
	finished := row.Termination != "" && row.Termination != "aborted"
	s := GameSummary{
		GameID:      row.GameID,
		Source:      row.Source,
		Plies:       len(row.Plies),
		Termination: row.Termination,
		Result:      store.PGNResult(row.Result, finished),
		Opponent:    row.Opponent,
		StartedAt:   row.StartedAt,
	}
	if !row.FinishedAt.IsZero() {
		s.DurationMs = row.FinishedAt.Sub(row.StartedAt).Milliseconds()
	}
	for _, p := range row.Plies {
		if p.Degraded {
			s.Degraded++
		}
	}
	return s
}

func filterGames(games []GameSummary, source string) []GameSummary {
	if source == "" {
		return games
	}
	out := make([]GameSummary, 0, len(games))
	for _, g := range games {
		if g.Source == source {
			out = append(out, g)
		}
	}
	return out
}

func paginateGames(games []GameSummary, limit, offset int) []GameSummary {
	if offset >= len(games) {
		return []GameSummary{}
	}
	end := offset + limit
	if limit <= 0 || end > len(games) {
		end = len(games)
	}
	return games[offset:end]
}

func buildGameResponse(row store.GameRow, rec *selfplay.GameRecord) GameResponse {
	resp := GameResponse{
		GameSummary: summarize(row),
		StartFEN:    row.StartFEN,
		FinalFEN:    rec.Final.FEN(),
		Plies:       make([]PlyView, len(rec.Plies)),
	}
	for i, p := range rec.Plies {
		pr := row.Plies[i]
		v := PlyView{
			Ply:       i,
			FEN:       p.Position.FEN(),
			Move:      pr.Move,
			Actor:     pr.Actor,
			Degraded:  pr.Degraded,
			RootValue: pr.RootValue,
		}
		if p.Stats != nil {
			for j, m := range p.Stats.Moves {
				v.Top = append(v.Top, MoveVisit{Move: m.UCI(), Visits: int32(p.Stats.Visits[j]), Policy: p.Stats.Policy[j]})
			}
			sort.SliceStable(v.Top, func(a, b int) bool { return v.Top[a].Visits > v.Top[b].Visits })
			if len(v.Top) > 5 {
				v.Top = v.Top[:5]
			}
		}
		resp.Plies[i] = v
	}
	return resp
}
