package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/rs/zerolog"
)

const (
	engineName = "chesszero"
	// Simulations run between deadline checks.
	searchChunk = 16
	// Held back from every clock-derived budget for GUI and pipe latency.
	moveOverhead = 50 * time.Millisecond
)

// engine speaks UCI on one input/output pair. Commands are handled in order;
// "go" blocks until the move is chosen, so "stop" has nothing to interrupt.
type engine struct {
	ev       mcts.Evaluator
	cfg      mcts.Config
	rules    rules.Rules
	maxSims  int
	moveTime time.Duration
	out      io.Writer
	logger   zerolog.Logger

	pos    *game.Position
	search *mcts.MCTS
}

func newEngine(ev mcts.Evaluator, cfg mcts.Config, maxSims int, moveTime time.Duration, out io.Writer, logger zerolog.Logger) *engine {
	cfg.Dirichlet = false
	// Chunked searches from one root accumulate into a single tree.
	cfg.ReuseTree = true
	e := &engine{
		ev:       ev,
		cfg:      cfg,
		rules:    rules.Standard{},
		maxSims:  maxSims,
		moveTime: moveTime,
		out:      out,
		logger:   logger,
	}
	e.newGame()
	return e
}

func (e *engine) newGame() {
	e.pos = game.StartPosition()
	e.search = mcts.New(e.cfg, e.ev, e.rules, rand.New(rand.NewSource(1)))
}

func (e *engine) send(format string, args ...any) {
	fmt.Fprintf(e.out, format+"\n", args...)
}

// run reads commands until "quit", EOF or ctx is cancelled.
func (e *engine) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		switch strings.ToLower(tokens[0]) {
		case "uci":
			e.send("id name %s", engineName)
			e.send("id author chesszero")
			e.send("option name Simulations type spin default %d min 1 max 1000000", e.maxSims)
			e.send("option name MoveTime type spin default %d min 10 max 600000", e.moveTime.Milliseconds())
			e.send("uciok")
		case "isready":
			e.send("readyok")
		case "ucinewgame":
			e.newGame()
		case "setoption":
			e.setOption(tokens[1:])
		case "position":
			if err := e.setPosition(tokens[1:]); err != nil {
				e.send("info string %v", err)
			}
		case "go":
			e.goSearch(ctx, tokens[1:])
		case "stop", "ponderhit":
		case "quit":
			return nil
		default:
			e.send("info string unknown command %s", tokens[0])
		}
	}
	return scanner.Err()
}

func (e *engine) setOption(tokens []string) {
	// setoption name <name> value <value>
	var name, value string
	for i := 0; i+1 < len(tokens); i++ {
		switch strings.ToLower(tokens[i]) {
		case "name":
			name = tokens[i+1]
		case "value":
			value = tokens[i+1]
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		e.send("info string bad value for %s: %q", name, value)
		return
	}
	switch strings.ToLower(name) {
	case "simulations":
		e.maxSims = n
	case "movetime":
		e.moveTime = time.Duration(n) * time.Millisecond
	default:
		e.send("info string unknown option %s", name)
	}
}

// setPosition handles "startpos [moves ...]" and "fen <fen> [moves ...]".
func (e *engine) setPosition(tokens []string) error {
	if len(tokens) == 0 {
		return fmt.Errorf("malformed position command")
	}
	var pos *game.Position
	rest := tokens[1:]
	switch strings.ToLower(tokens[0]) {
	case "startpos":
		pos = game.StartPosition()
	case "fen":
		i := 0
		for i < len(rest) && strings.ToLower(rest[i]) != "moves" {
			i++
		}
		p, err := game.ParseFEN(strings.Join(rest[:i], " "))
		if err != nil {
			return err
		}
		pos, rest = p, rest[i:]
	default:
		return fmt.Errorf("invalid position subcommand %q", tokens[0])
	}
	if len(rest) > 0 && strings.ToLower(rest[0]) == "moves" {
		for _, s := range rest[1:] {
			m, err := game.ParseMove(s)
			if err != nil {
				return err
			}
			next, err := e.rules.Apply(pos, m)
			if err != nil {
				return fmt.Errorf("move %s: %w", s, err)
			}
			pos = next
		}
	}
	e.pos = pos
	return nil
}

type goParams struct {
	wtime, btime, winc, binc time.Duration
	movetime                 time.Duration
	nodes                    int
	infinite                 bool
}

func parseGo(tokens []string) goParams {
	var p goParams
	ms := func(i int) time.Duration {
		if i >= len(tokens) {
			return 0
		}
		n, _ := strconv.Atoi(tokens[i])
		return time.Duration(n) * time.Millisecond
	}
	for i := 0; i < len(tokens); i++ {
		switch strings.ToLower(tokens[i]) {
		case "wtime":
			i++
			p.wtime = ms(i)
		case "btime":
			i++
			p.btime = ms(i)
		case "winc":
			i++
			p.winc = ms(i)
		case "binc":
			i++
			p.binc = ms(i)
		case "movetime":
			i++
			p.movetime = ms(i)
		case "nodes":
			i++
			if i < len(tokens) {
				p.nodes, _ = strconv.Atoi(tokens[i])
			}
		case "infinite":
			p.infinite = true
		}
	}
	return p
}

// budget returns the thinking time and simulation cap for one move. A nodes
// limit alone searches without a clock.
func (e *engine) budget(p goParams) (time.Duration, int) {
	sims := e.maxSims
	if p.nodes > 0 {
		sims = p.nodes
		if p.movetime == 0 && p.wtime == 0 && p.btime == 0 {
			return 0, sims
		}
	}
	if p.movetime > 0 {
		return max(p.movetime-moveOverhead, 10*time.Millisecond), sims
	}
	clock, inc := p.wtime, p.winc
	if e.pos.Turn() == game.Black {
		clock, inc = p.btime, p.binc
	}
	if clock > 0 {
		t := clock/30 + inc/2
		t = min(t, clock/2) - moveOverhead
		return max(t, 10*time.Millisecond), sims
	}
	if p.infinite {
		return 0, sims
	}
	return e.moveTime, sims
}

func (e *engine) goSearch(ctx context.Context, tokens []string) {
	start := time.Now()
	thinkFor, maxSims := e.budget(parseGo(tokens))
	var deadline time.Time
	if thinkFor > 0 {
		deadline = start.Add(thinkFor)
	}

	var stats *mcts.SearchStatistics
	done := 0
	for done < maxSims {
		if ctx.Err() != nil || (!deadline.IsZero() && time.Now().After(deadline)) {
			break
		}
		chunk := min(searchChunk, maxSims-done)
		s, err := e.search.Search(ctx, e.pos, chunk)
		if s == nil {
			if err != nil && ctx.Err() == nil {
				e.send("info string search failed: %v", err)
				e.logger.Warn().Err(err).Str("fen", e.pos.FEN()).Msg("search failed")
			}
			break
		}
		stats = s
		// A single legal move needs no search.
		if len(s.Moves) == 1 {
			break
		}
		done += chunk
	}

	if stats == nil {
		legal := e.rules.LegalMoves(e.pos)
		if len(legal) == 0 {
			e.send("bestmove 0000")
			return
		}
		e.send("bestmove %s", legal[0].UCI())
		return
	}

	best := stats.Best()
	elapsed := time.Since(start)
	nodes := stats.TotalVisits()
	nps := 0
	if ms := elapsed.Milliseconds(); ms > 0 {
		nps = int(int64(nodes) * 1000 / ms)
	}
	e.send("info depth 1 nodes %d nps %d time %d score cp %d pv %s",
		nodes, nps, elapsed.Milliseconds(), centipawns(stats.RootValue), best.UCI())
	e.send("bestmove %s", best.UCI())
	e.logger.Debug().Str("fen", e.pos.FEN()).Str("move", best.UCI()).Int("nodes", nodes).Dur("took", elapsed).Msg("move")
}

// centipawns maps a value in [-1, 1] onto the centipawn scale GUIs expect.
func centipawns(v float32) int {
	x := math.Max(-0.99, math.Min(0.99, float64(v)))
	return int(math.Round(111.714640912 * math.Tan(1.5620688421*x)))
}
