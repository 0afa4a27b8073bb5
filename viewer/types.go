package main

import (
	"time"

	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/store"
)

type GameSummary struct {
	GameID      string    `json:"game_id"`
	Source      string    `json:"source"`
	Plies       int       `json:"plies"`
	Termination string    `json:"termination"`
	Result      string    `json:"result"`
	Opponent    string    `json:"opponent,omitempty"`
	Degraded    int       `json:"degraded,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
}

type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

type MoveVisit struct {
	Move   string  `json:"move"`
	Visits int32   `json:"visits"`
	Policy float32 `json:"policy"`
}

type PlyView struct {
	Ply       int         `json:"ply"`
	FEN       string      `json:"fen"`
	Move      string      `json:"move"`
	Actor     string      `json:"actor"`
	Degraded  bool        `json:"degraded,omitempty"`
	RootValue float32     `json:"root_value"`
	Top       []MoveVisit `json:"top,omitempty"`
}

type GameResponse struct {
	GameSummary
	StartFEN string    `json:"start_fen"`
	FinalFEN string    `json:"final_fen"`
	Plies    []PlyView `json:"plies"`
}

type StatsResponse struct {
	Shards      store.Summary `json:"shards"`
	RefreshedAt time.Time     `json:"refreshed_at"`
}

type MCTSResponse struct {
	FEN       string              `json:"fen"`
	Sims      int                 `json:"sims"`
	Cpuct     float32             `json:"cpuct"`
	Best      string              `json:"best"`
	RootValue float32             `json:"root_value"`
	Tree      *selfplay.DebugNode `json:"tree"`
	Board     string              `json:"board"`
}

type DebugGameSummary struct {
	GameID      string  `json:"game_id"`
	FileName    string  `json:"file"`
	ModelPath   string  `json:"model_path"`
	Termination string  `json:"termination"`
	WhiteResult float32 `json:"white_result"`
	TurnCount   int     `json:"turn_count"`
	Sims        int     `json:"sims"`
	Cpuct       float32 `json:"cpuct"`
}
