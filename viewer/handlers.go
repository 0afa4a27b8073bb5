package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/brensch/chesszero/store"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
)

const (
	defaultMCTSSims = 200
	maxMCTSSims     = 5000
)

// Server holds shared state for HTTP handlers.
type Server struct {
	archive  *store.Archive
	cache    *IndexCache
	debugDir string
	// getEvaluator loads the model on first use.
	getEvaluator func() (mcts.Evaluator, error)
	mctsConfig   mcts.Config
	logger       zerolog.Logger
}

func NewServer(archive *store.Archive, cache *IndexCache, debugDir string, getEvaluator func() (mcts.Evaluator, error), cfg mcts.Config, logger zerolog.Logger) *Server {
	cfg.Dirichlet = false
	return &Server{
		archive:      archive,
		cache:        cache,
		debugDir:     debugDir,
		getEvaluator: getEvaluator,
		mctsConfig:   cfg,
		logger:       logger,
	}
}

// RegisterRoutes sets up all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games", s.handleGames)
	mux.HandleFunc("GET /api/games/{id}", s.handleGame)
	mux.HandleFunc("GET /api/games/{id}/pgn", s.handleGamePGN)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/mcts", s.handleMCTS)
	mux.HandleFunc("GET /api/debug_games", s.handleDebugGamesList)
	mux.HandleFunc("GET /api/debug_games/{id}", s.handleDebugGame)
	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) { withCORS(w, r) })
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	limit := parseIntQuery(r, "limit", 50)
	offset := parseIntQuery(r, "offset", 0)

	games, err := s.cache.Games()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	games = filterGames(games, r.URL.Query().Get("source"))
	writeJSON(w, GamesResponse{
		Total: int64(len(games)),
		Games: paginateGames(games, limit, offset),
	})
}

func (s *Server) loadGame(w http.ResponseWriter, r *http.Request) (store.GameRow, bool) {
	row, err := s.archive.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrGameNotFound) {
			http.Error(w, "game not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return store.GameRow{}, false
	}
	return row, true
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	row, ok := s.loadGame(w, r)
	if !ok {
		return
	}
	rec, err := selfplay.Replay(row, rules.Standard{})
	if err != nil {
		http.Error(w, "replay: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, buildGameResponse(row, rec))
}

func (s *Server) handleGamePGN(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	row, ok := s.loadGame(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/x-chess-pgn")
	if err := store.WritePGN(w, row); err != nil {
		s.logger.Warn().Err(err).Str("game", row.GameID).Msg("write pgn")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	sum, at, err := s.cache.Summary(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsResponse{Shards: sum, RefreshedAt: at})
}

func (s *Server) handleMCTS(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	pos := game.StartPosition()
	if fen := r.URL.Query().Get("fen"); fen != "" {
		p, err := game.ParseFEN(fen)
		if err != nil {
			http.Error(w, "bad fen: "+err.Error(), http.StatusBadRequest)
			return
		}
		pos = p
	}
	sims := parseIntQuery(r, "sims", defaultMCTSSims)
	if sims < 1 || sims > maxMCTSSims {
		http.Error(w, "sims out of range", http.StatusBadRequest)
		return
	}
	depth := parseIntQuery(r, "depth", 2)

	ev, err := s.getEvaluator()
	if err != nil {
		http.Error(w, "evaluator: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	m := mcts.New(s.mctsConfig, ev, rules.Standard{}, rand.New(rand.NewSource(1)))
	stats, err := m.Search(ctx, pos, sims)
	if stats == nil {
		code := http.StatusInternalServerError
		if errors.Is(err, mcts.ErrNoLegalMoves) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	if err != nil {
		s.logger.Debug().Err(err).Str("fen", pos.FEN()).Msg("search discarded simulations")
	}

	writeJSON(w, MCTSResponse{
		FEN:       pos.FEN(),
		Sims:      stats.Simulations,
		Cpuct:     s.mctsConfig.Cpuct,
		Best:      stats.Best().UCI(),
		RootValue: stats.RootValue,
		Tree:      selfplay.DumpTree(m.Tree(), depth, 1),
		Board:     selfplay.RenderBoard(pos, termenv.Ascii),
	})
}

func (s *Server) handleDebugGamesList(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	games, err := listDebugGames(s.debugDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, games)
}

func (s *Server) handleDebugGame(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	g, err := loadDebugGame(s.debugDir, r.PathValue("id"))
	if err != nil {
		http.Error(w, "debug game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, g)
}
