package arena

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/store"
)

// DefaultSkillLevels are the Stockfish skill levels a ladder visits.
var DefaultSkillLevels = []int{1, 3, 5, 7, 10}

// Ladder plays the model as White and then as Black against the engine at
// each skill level.
type Ladder struct {
	Levels        []int
	GamesPerColor int
	// Match is the template for every level; Opponent, Label, ModelColor,
	// Games and PGNDir are set per level.
	Match Match
	// NewOpponent builds the engine for one skill level. Opponents that
	// implement io.Closer are closed after their level.
	NewOpponent func(skill int) (opponent.Opponent, error)
	OutDir      string
	ModelPath   string
}

// LevelResult is one rung of the ladder.
type LevelResult struct {
	Skill   int
	White   *Summary
	Black   *Summary
	PGNFile string
}

func (r LevelResult) Total() Record {
	return Record{
		Wins:   r.White.Total.Wins + r.Black.Total.Wins,
		Losses: r.White.Total.Losses + r.Black.Total.Losses,
		Draws:  r.White.Total.Draws + r.Black.Total.Draws,
	}
}

func (r LevelResult) WinRate() float64 {
	t := r.Total()
	if t.Games() == 0 {
		return 0
	}
	return float64(t.Wins) / float64(t.Games()) * 100
}

// RunSkillLadder plays every level in order, writes each level's games to
// OutDir/skill_<n>_games.pgn and a text report to OutDir/evaluation_summary.txt.
func RunSkillLadder(ctx context.Context, l Ladder) ([]LevelResult, error) {
	if len(l.Levels) == 0 {
		l.Levels = DefaultSkillLevels
	}
	if l.GamesPerColor <= 0 {
		l.GamesPerColor = 10
	}
	if err := os.MkdirAll(l.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	log := l.Match.Logger
	results := make([]LevelResult, 0, len(l.Levels))
	for _, skill := range l.Levels {
		res, err := runLevel(ctx, l, skill)
		if err != nil {
			return results, fmt.Errorf("skill %d: %w", skill, err)
		}
		t := res.Total()
		log.Info().
			Int("skill", skill).
			Str("record", t.String()).
			Float64("win_rate", res.WinRate()).
			Msg("skill level finished")
		results = append(results, res)
	}

	f, err := os.Create(filepath.Join(l.OutDir, "evaluation_summary.txt"))
	if err != nil {
		return results, fmt.Errorf("create report: %w", err)
	}
	defer f.Close()
	if err := WriteReport(f, l.ModelPath, time.Now(), results); err != nil {
		return results, err
	}
	return results, f.Close()
}

func runLevel(ctx context.Context, l Ladder, skill int) (LevelResult, error) {
	opp, err := l.NewOpponent(skill)
	if err != nil {
		return LevelResult{}, err
	}
	if c, ok := opp.(io.Closer); ok {
		defer c.Close()
	}

	res := LevelResult{Skill: skill}
	for _, color := range []string{"white", "black"} {
		m := l.Match
		m.Opponent = opp
		m.Label = fmt.Sprintf("Stockfish (Skill Level %d)", skill)
		m.ModelColor = color
		m.Games = l.GamesPerColor
		m.PGNDir = filepath.Join(l.OutDir, fmt.Sprintf("skill_%d", skill))
		m.Logger = l.Match.Logger.With().Int("skill", skill).Logger()
		sum, err := Play(ctx, m)
		if err != nil {
			return res, err
		}
		if color == "white" {
			res.White = sum
		} else {
			res.Black = sum
		}
	}

	res.PGNFile = filepath.Join(l.OutDir, fmt.Sprintf("skill_%d_games.pgn", skill))
	f, err := os.Create(res.PGNFile)
	if err != nil {
		return res, fmt.Errorf("create pgn: %w", err)
	}
	defer f.Close()
	round := 0
	for _, sum := range []*Summary{res.White, res.Black} {
		for _, rec := range sum.Games {
			round++
			row := rec.Archive()
			row.GameID = fmt.Sprint(round)
			if err := store.WritePGN(f, row); err != nil {
				return res, err
			}
		}
	}
	return res, f.Close()
}

// WriteReport renders ladder results as plain text.
func WriteReport(w io.Writer, modelPath string, at time.Time, results []LevelResult) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}
	printf("Chess Model Evaluation Report\n")
	printf("=============================\n\n")
	printf("Model: %s\n", modelPath)
	printf("Date: %s\n\n", at.Format("2006-01-02 15:04:05"))
	printf("Results by Stockfish Skill Level:\n")
	for _, r := range results {
		t := r.Total()
		printf("\nSkill Level %d:\n", r.Skill)
		printf("  Total Games: %d\n", t.Games())
		printf("  Wins: %d, Losses: %d, Draws: %d\n", t.Wins, t.Losses, t.Draws)
		printf("  Win Rate: %.2f%%\n", r.WinRate())
		printf("  As White: %s\n", r.White.Total)
		printf("  As Black: %s\n", r.Black.Total)
		if aborted := r.White.Aborted + r.Black.Aborted; aborted > 0 {
			printf("  Aborted: %d\n", aborted)
		}
	}
	return err
}
