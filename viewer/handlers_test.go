package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brensch/chesszero/executor/inference"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/store"
	"github.com/rs/zerolog"
)

func foolsMate() store.GameRow {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return store.GameRow{
		GameID: "fools",
		Source: "selfplay",
		Plies: []store.PlyRow{
			{Move: "f2f3", Actor: "mcts", Moves: []int32{int32(game.MustParseMove("f2f3")), int32(game.MustParseMove("e2e4"))}, Visits: []int32{3, 5}, Policy: []float32{0.375, 0.625}},
			{Move: "e7e5", Actor: "opponent"},
			{Move: "g2g4", Actor: "mcts", Degraded: true},
			{Move: "d8h4", Actor: "opponent"},
		},
		Status:      "checkmate",
		Termination: "checkmate",
		Result:      -1,
		Opponent:    "stockfish elo=1400",
		StartedAt:   start,
		FinishedAt:  start.Add(time.Minute),
	}
}

func newTestServer(t *testing.T, debugDir string) *httptest.Server {
	t.Helper()
	archive, err := store.OpenArchive("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { archive.Close() })
	if err := archive.Put(foolsMate()); err != nil {
		t.Fatal(err)
	}

	cache := NewIndexCache(archive, []string{t.TempDir()}, time.Minute, zerolog.Nop())
	getEvaluator := func() (mcts.Evaluator, error) { return inference.Uniform{}, nil }
	srv := NewServer(archive, cache, debugDir, getEvaluator, mcts.DefaultConfig(), zerolog.Nop())
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestGamesList(t *testing.T) {
	ts := newTestServer(t, t.TempDir())

	var games GamesResponse
	if code := getJSON(t, ts.URL+"/api/games", &games); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if games.Total != 1 || len(games.Games) != 1 {
		t.Fatalf("games %+v", games)
	}
	g := games.Games[0]
	if g.Result != "0-1" || g.Plies != 4 || g.Degraded != 1 || g.DurationMs != 60000 {
		t.Fatalf("summary %+v", g)
	}

	if code := getJSON(t, ts.URL+"/api/games?source=arena", &games); code != http.StatusOK || games.Total != 0 {
		t.Fatalf("source filter: status %d total %d", code, games.Total)
	}
}

func TestGameDetail(t *testing.T) {
	ts := newTestServer(t, t.TempDir())

	var g GameResponse
	if code := getJSON(t, ts.URL+"/api/games/fools", &g); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(g.Plies) != 4 {
		t.Fatalf("plies %d", len(g.Plies))
	}
	if g.Plies[0].FEN != game.StartPosition().FEN() {
		t.Fatalf("first fen %q", g.Plies[0].FEN)
	}
	if top := g.Plies[0].Top; len(top) != 2 || top[0].Move != "e2e4" {
		t.Fatalf("top moves %+v", top)
	}
	if !strings.HasPrefix(g.FinalFEN, "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w") {
		t.Fatalf("final fen %q", g.FinalFEN)
	}

	if code := getJSON(t, ts.URL+"/api/games/missing", nil); code != http.StatusNotFound {
		t.Fatalf("missing game status %d", code)
	}
}

func TestGamePGN(t *testing.T) {
	ts := newTestServer(t, t.TempDir())
	resp, err := http.Get(ts.URL + "/api/games/fools/pgn")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "2. g4 Qh4# 0-1") {
		t.Fatalf("pgn:\n%s", body)
	}
}

func TestMCTS(t *testing.T) {
	ts := newTestServer(t, t.TempDir())

	var res MCTSResponse
	if code := getJSON(t, ts.URL+"/api/mcts?sims=32&depth=1", &res); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if res.Best == "" || res.Tree == nil || len(res.Tree.Children) == 0 {
		t.Fatalf("search result %+v", res)
	}
	if res.Sims != 32 {
		t.Fatalf("sims = %d", res.Sims)
	}
	for _, c := range res.Tree.Children {
		if len(c.Children) != 0 {
			t.Fatal("depth limit ignored")
		}
	}

	if code := getJSON(t, ts.URL+"/api/mcts?fen=nonsense", nil); code != http.StatusBadRequest {
		t.Fatalf("bad fen status %d", code)
	}
	mated := "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"
	if code := getJSON(t, ts.URL+"/api/mcts?fen="+strings.ReplaceAll(mated, " ", "+"), nil); code != http.StatusBadRequest {
		t.Fatalf("mated position status %d", code)
	}
}

func TestDebugGames(t *testing.T) {
	dir := t.TempDir()
	g := &selfplay.DebugGame{
		GameID:      "dbg1",
		ModelPath:   "models/test.onnx",
		Termination: "stalemate",
		Turns:       []selfplay.DebugTurn{{Ply: 0, Move: "e2e4", Sims: 50, Cpuct: 1.5}},
	}
	if _, err := selfplay.WriteDebugGame(dir, g); err != nil {
		t.Fatal(err)
	}
	ts := newTestServer(t, dir)

	var list []DebugGameSummary
	if code := getJSON(t, ts.URL+"/api/debug_games", &list); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(list) != 1 || list[0].GameID != "dbg1" || list[0].Sims != 50 || list[0].TurnCount != 1 {
		t.Fatalf("list %+v", list)
	}

	var got selfplay.DebugGame
	if code := getJSON(t, ts.URL+"/api/debug_games/dbg1", &got); code != http.StatusOK || got.Termination != "stalemate" {
		t.Fatalf("status %d game %+v", code, got)
	}
	if code := getJSON(t, ts.URL+"/api/debug_games/nope", nil); code != http.StatusNotFound {
		t.Fatalf("missing debug game status %d", code)
	}
}
