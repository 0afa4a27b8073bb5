package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/brensch/chesszero/executor/selfplay"
)

// listDebugGames returns a summary of every debug game file in dir.
func listDebugGames(dir string) ([]DebugGameSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []DebugGameSummary{}, nil
		}
		return nil, err
	}

	games := make([]DebugGameSummary, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		g, err := readDebugGame(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // Skip invalid files
		}
		s := DebugGameSummary{
			GameID:      g.GameID,
			FileName:    entry.Name(),
			ModelPath:   g.ModelPath,
			Termination: g.Termination,
			WhiteResult: g.WhiteResult,
			TurnCount:   len(g.Turns),
		}
		if len(g.Turns) > 0 {
			s.Sims = g.Turns[0].Sims
			s.Cpuct = g.Turns[0].Cpuct
		}
		games = append(games, s)
	}
	return games, nil
}

func readDebugGame(path string) (*selfplay.DebugGame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g selfplay.DebugGame
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// loadDebugGame loads a debug game by id. Ids never name a path.
func loadDebugGame(dir, gameID string) (*selfplay.DebugGame, error) {
	if gameID == "" || strings.ContainsAny(gameID, `/\`) || strings.Contains(gameID, "..") {
		return nil, os.ErrNotExist
	}
	g, err := readDebugGame(filepath.Join(dir, gameID+".json"))
	if err != nil {
		return nil, err
	}
	if g.GameID != gameID {
		return nil, errors.New("debug game id mismatch")
	}
	return g, nil
}
