package opponent

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/brensch/chesszero/game"
	"github.com/brensch/chesszero/rules"
	"github.com/notnil/chess/uci"
	"github.com/rs/zerolog"
)

// StockfishConfig configures one engine process.
type StockfishConfig struct {
	Path string
	// SkillLevel is passed as "Skill Level" when >= 0.
	SkillLevel int
	// EloMin and EloMax enable UCI_LimitStrength with an Elo drawn
	// uniformly per game. Zero disables.
	EloMin int
	EloMax int
	// MoveTime is the default per-move budget; Depth, when set, also
	// bounds the search.
	MoveTime time.Duration
	Depth    int
	// MaxMoves caps engine moves per game. Zero means no cap.
	MaxMoves int
	Threads  int
	HashMB   int
	// Reserve is held back from each move budget for the round trip to the
	// process: the engine searches budget-Reserve and must answer within
	// budget. Zero reserves a fifth of the budget.
	Reserve time.Duration
	Logger  zerolog.Logger
}

func DefaultStockfishConfig() StockfishConfig {
	return StockfishConfig{
		Path:       "stockfish",
		SkillLevel: -1,
		MoveTime:   100 * time.Millisecond,
		Threads:    1,
		HashMB:     16,
		Logger:     zerolog.Nop(),
	}
}

// Stockfish drives a UCI engine process through notnil/chess/uci.
type Stockfish struct {
	cfg   StockfishConfig
	log   zerolog.Logger
	eng   *uci.Engine
	elo   int
	moves int
}

var _ Opponent = (*Stockfish)(nil)

// NewStockfish starts the engine and applies the static options.
func NewStockfish(cfg StockfishConfig) (*Stockfish, error) {
	if cfg.Path == "" {
		cfg.Path = "stockfish"
	}
	s := &Stockfish{cfg: cfg, log: cfg.Logger.With().Str("engine", cfg.Path).Logger()}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stockfish) start() error {
	eng, err := uci.New(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: start %s: %w", ErrAdapterUnavailable, s.cfg.Path, err)
	}

	cmds := []uci.Cmd{uci.CmdUCI, uci.CmdIsReady}
	if s.cfg.Threads > 0 {
		cmds = append(cmds, uci.CmdSetOption{Name: "Threads", Value: strconv.Itoa(s.cfg.Threads)})
	}
	if s.cfg.HashMB > 0 {
		cmds = append(cmds, uci.CmdSetOption{Name: "Hash", Value: strconv.Itoa(s.cfg.HashMB)})
	}
	if s.cfg.SkillLevel >= 0 {
		cmds = append(cmds, uci.CmdSetOption{Name: "Skill Level", Value: strconv.Itoa(s.cfg.SkillLevel)})
	}
	cmds = append(cmds, uci.CmdUCINewGame, uci.CmdIsReady)

	if err := s.run(eng, 10*time.Second, cmds...); err != nil {
		go eng.Close()
		return fmt.Errorf("%w: initialise %s: %w", ErrAdapterUnavailable, s.cfg.Path, err)
	}
	s.eng = eng
	return nil
}

// run executes cmds with a deadline. A hung engine is left for the caller
// to kill.
func (s *Stockfish) run(eng *uci.Engine, timeout time.Duration, cmds ...uci.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- eng.Run(cmds...) }()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %v", timeout)
	}
}

// kill tears down a misbehaving process. The next NewGame restarts it.
func (s *Stockfish) kill(reason error) {
	if s.eng == nil {
		return
	}
	s.log.Warn().Err(reason).Msg("killing engine")
	eng := s.eng
	s.eng = nil
	// Close waits on the process, so keep it off the game's path.
	go eng.Close()
}

// NewGame starts a fresh game, restarting the process if an earlier failure
// killed it, and draws this game's Elo.
func (s *Stockfish) NewGame(rng *rand.Rand) error {
	s.moves = 0
	if s.eng == nil {
		if err := s.start(); err != nil {
			return err
		}
	}

	cmds := []uci.Cmd{uci.CmdUCINewGame}
	s.elo = 0
	if s.cfg.EloMin > 0 && s.cfg.EloMax >= s.cfg.EloMin {
		s.elo = PickElo(rng, s.cfg.EloMin, s.cfg.EloMax)
		cmds = append(cmds,
			uci.CmdSetOption{Name: "UCI_LimitStrength", Value: "true"},
			uci.CmdSetOption{Name: "UCI_Elo", Value: strconv.Itoa(s.elo)},
		)
	}
	cmds = append(cmds, uci.CmdIsReady)
	if err := s.run(s.eng, 10*time.Second, cmds...); err != nil {
		s.kill(err)
		return fmt.Errorf("%w: new game: %w", ErrAdapterUnavailable, err)
	}
	return nil
}

// PickElo draws uniformly from [lo, hi].
func PickElo(rng *rand.Rand, lo, hi int) int {
	if hi <= lo || rng == nil {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

func (s *Stockfish) Elo() int { return s.elo }

func (s *Stockfish) Describe() string {
	d := "stockfish"
	if s.cfg.SkillLevel >= 0 {
		d += fmt.Sprintf(" skill=%d", s.cfg.SkillLevel)
	}
	if s.elo > 0 {
		d += fmt.Sprintf(" elo=%d", s.elo)
	}
	return d
}

// ChooseMove asks the engine for its best move within budget. A zero budget
// uses the configured MoveTime. An engine that has not answered when the
// budget runs out is killed.
func (s *Stockfish) ChooseMove(ctx context.Context, pos *game.Position, budget time.Duration) (game.Move, error) {
	if s.eng == nil {
		return game.NoMove, fmt.Errorf("%w: engine not running", ErrAdapterUnavailable)
	}
	if s.cfg.MaxMoves > 0 && s.moves >= s.cfg.MaxMoves {
		return game.NoMove, ErrMoveCapReached
	}
	if budget <= 0 {
		budget = s.cfg.MoveTime
	}

	think := searchTime(budget, s.cfg.Reserve)
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	eng := s.eng
	type result struct {
		uci string
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmdPos := uci.CmdPosition{Position: pos.Chess()}
		cmdGo := uci.CmdGo{MoveTime: think, Depth: s.cfg.Depth}
		if err := eng.Run(cmdPos, cmdGo); err != nil {
			done <- result{err: err}
			return
		}
		best := eng.SearchResults().BestMove
		if best == nil {
			done <- result{err: fmt.Errorf("no bestmove")}
			return
		}
		done <- result{uci: best.String()}
	}()

	var res result
	select {
	case <-ctx.Done():
		s.kill(ctx.Err())
		return game.NoMove, fmt.Errorf("%w: %w", ErrAdapterUnavailable, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		s.kill(res.err)
		return game.NoMove, fmt.Errorf("%w: %w", ErrAdapterUnavailable, res.err)
	}

	m, err := game.ParseMove(res.uci)
	if err != nil {
		return game.NoMove, fmt.Errorf("%w: malformed move: %w", ErrAdapterUnavailable, err)
	}
	if !isLegal(pos, m) {
		return game.NoMove, fmt.Errorf("%w: illegal move %s in %s", ErrAdapterUnavailable, res.uci, pos.FEN())
	}
	s.moves++
	return m, nil
}

// searchTime is the engine's share of budget once reserve is held back.
// The reserve never exceeds half the budget.
func searchTime(budget, reserve time.Duration) time.Duration {
	if reserve <= 0 {
		reserve = budget / 5
	}
	reserve = min(reserve, budget/2)
	return max(budget-reserve, time.Millisecond)
}

func isLegal(pos *game.Position, m game.Move) bool {
	for _, l := range (rules.Standard{}).LegalMoves(pos) {
		if l == m {
			return true
		}
	}
	return false
}

// Close stops the engine process.
func (s *Stockfish) Close() error {
	if s.eng == nil {
		return nil
	}
	err := s.eng.Close()
	s.eng = nil
	return err
}
