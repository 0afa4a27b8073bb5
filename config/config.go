// Package config loads the YAML run configuration shared by the binaries.
// Every field has a default, so a file only needs the values it changes;
// command-line flags are applied on top by each binary.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brensch/chesszero/executor/arena"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/executor/opponent"
	"github.com/brensch/chesszero/executor/selfplay"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      Log      `yaml:"log"`
	Model    Model    `yaml:"model"`
	MCTS     MCTS     `yaml:"mcts"`
	SelfPlay SelfPlay `yaml:"selfplay"`
	Opponent Opponent `yaml:"opponent"`
	Output   Output   `yaml:"output"`
	Arena    Arena    `yaml:"arena"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Model struct {
	Path string `yaml:"path"`
	// Require makes a missing or broken model fatal instead of falling back
	// to the uniform evaluator.
	Require      bool          `yaml:"require"`
	Sessions     int           `yaml:"sessions"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	CUDA         bool          `yaml:"cuda"`
	// RemoteURL, when set, evaluates over a websocket instead of loading
	// the model locally.
	RemoteURL string `yaml:"remote_url"`
}

type MCTS struct {
	Simulations       int     `yaml:"simulations"`
	Cpuct             float32 `yaml:"cpuct"`
	Dirichlet         bool    `yaml:"dirichlet"`
	DirichletAlpha    float64 `yaml:"dirichlet_alpha"`
	DirichletFrac     float64 `yaml:"dirichlet_frac"`
	PolicyTemperature float64 `yaml:"policy_temperature"`
	ReuseTree         bool    `yaml:"reuse_tree"`
}

type SelfPlay struct {
	Workers     int                          `yaml:"workers"`
	Games       int                          `yaml:"games"`
	MaxPlies    int                          `yaml:"max_plies"`
	Temperature selfplay.TemperatureSchedule `yaml:"temperature"`
	StartFENs   []string                     `yaml:"start_fens"`
	Verbose     bool                         `yaml:"verbose"`
}

type Opponent struct {
	Enabled    bool          `yaml:"enabled"`
	Path       string        `yaml:"path"`
	SkillLevel int           `yaml:"skill_level"`
	EloMin     int           `yaml:"elo_min"`
	EloMax     int           `yaml:"elo_max"`
	MoveTime   time.Duration `yaml:"move_time"`
	Reserve    time.Duration `yaml:"reserve"`
	Depth      int           `yaml:"depth"`
	MaxMoves   int           `yaml:"max_moves"`
	Threads    int           `yaml:"threads"`
	HashMB     int           `yaml:"hash_mb"`
	// GameFraction of games seat the opponent; within those it moves on
	// PlyFraction of its colour's plies.
	GameFraction float64 `yaml:"game_fraction"`
	PlyFraction  float64 `yaml:"ply_fraction"`
}

type Output struct {
	Dir           string `yaml:"dir"`
	GamesPerFlush int    `yaml:"games_per_flush"`
	ArchiveDir    string `yaml:"archive_dir"`
	WrittenLog    string `yaml:"written_log"`
}

type Arena struct {
	Levels        []int   `yaml:"levels"`
	GamesPerColor int     `yaml:"games_per_color"`
	Simulations   int     `yaml:"simulations"`
	Temperature   float64 `yaml:"temperature"`
	MaxPlies      int     `yaml:"max_plies"`
	ModelColor    string  `yaml:"model_color"`
	OutDir        string  `yaml:"out_dir"`
}

func Default() Config {
	mc := mcts.DefaultConfig()
	sf := opponent.DefaultStockfishConfig()
	am := arena.DefaultMatch()
	return Config{
		Log: Log{Level: "info", Format: "auto"},
		Model: Model{
			Path:         "models/chess_transformer.onnx",
			Sessions:     1,
			BatchSize:    128,
			BatchTimeout: time.Millisecond,
			CUDA:         true,
		},
		MCTS: MCTS{
			Simulations:       800,
			Cpuct:             mc.Cpuct,
			Dirichlet:         mc.Dirichlet,
			DirichletAlpha:    mc.DirichletAlpha,
			DirichletFrac:     mc.DirichletFrac,
			PolicyTemperature: mc.PolicyTemperature,
		},
		SelfPlay: SelfPlay{
			Workers:     16,
			MaxPlies:    512,
			Temperature: selfplay.DefaultSchedule(),
		},
		Opponent: Opponent{
			Path:         sf.Path,
			SkillLevel:   sf.SkillLevel,
			EloMin:       1350,
			EloMax:       1800,
			MoveTime:     sf.MoveTime,
			Threads:      sf.Threads,
			HashMB:       sf.HashMB,
			GameFraction: 0.25,
			PlyFraction:  1,
		},
		Output: Output{
			Dir:           "data/generated",
			GamesPerFlush: 50,
			ArchiveDir:    "data/archive",
			WrittenLog:    "data/generated/written.log",
		},
		Arena: Arena{
			Levels:        append([]int(nil), arena.DefaultSkillLevels...),
			GamesPerColor: 10,
			Simulations:   am.Simulations,
			Temperature:   am.Temperature,
			MaxPlies:      am.MaxPlies,
			ModelColor:    am.ModelColor,
			OutDir:        "evaluation_results",
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Decode(data); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode merges YAML data into c and validates the result.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return c.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	check(c.MCTS.Simulations > 0, "mcts.simulations must be positive, got %d", c.MCTS.Simulations)
	check(c.MCTS.Cpuct > 0, "mcts.cpuct must be positive, got %v", c.MCTS.Cpuct)
	check(c.MCTS.DirichletFrac >= 0 && c.MCTS.DirichletFrac <= 1, "mcts.dirichlet_frac must be in [0,1], got %v", c.MCTS.DirichletFrac)
	check(!c.MCTS.Dirichlet || c.MCTS.DirichletAlpha > 0, "mcts.dirichlet_alpha must be positive, got %v", c.MCTS.DirichletAlpha)
	check(c.MCTS.PolicyTemperature >= 0, "mcts.policy_temperature must not be negative")
	check(c.SelfPlay.Workers > 0, "selfplay.workers must be positive, got %d", c.SelfPlay.Workers)
	check(c.SelfPlay.Games >= 0, "selfplay.games must not be negative")
	check(c.SelfPlay.MaxPlies >= 0, "selfplay.max_plies must not be negative")
	check(c.SelfPlay.Temperature.Initial >= 0 && c.SelfPlay.Temperature.Final >= 0, "selfplay.temperature must not be negative")
	check(c.Opponent.GameFraction >= 0 && c.Opponent.GameFraction <= 1, "opponent.game_fraction must be in [0,1], got %v", c.Opponent.GameFraction)
	check(c.Opponent.PlyFraction >= 0 && c.Opponent.PlyFraction <= 1, "opponent.ply_fraction must be in [0,1], got %v", c.Opponent.PlyFraction)
	check(c.Opponent.EloMax >= c.Opponent.EloMin, "opponent.elo_max %d below elo_min %d", c.Opponent.EloMax, c.Opponent.EloMin)
	check(c.Opponent.Reserve >= 0, "opponent.reserve must not be negative")
	check(c.Opponent.SkillLevel <= 20, "opponent.skill_level must be at most 20, got %d", c.Opponent.SkillLevel)
	check(c.Output.GamesPerFlush > 0, "output.games_per_flush must be positive")
	check(c.Arena.GamesPerColor > 0, "arena.games_per_color must be positive")
	switch c.Arena.ModelColor {
	case "white", "black", "both":
	default:
		errs = append(errs, fmt.Errorf("arena.model_color must be white, black or both, got %q", c.Arena.ModelColor))
	}
	return errors.Join(errs...)
}

// MCTSConfig converts the mcts section.
func (c Config) MCTSConfig() mcts.Config {
	return mcts.Config{
		Cpuct:             c.MCTS.Cpuct,
		Dirichlet:         c.MCTS.Dirichlet,
		DirichletAlpha:    c.MCTS.DirichletAlpha,
		DirichletFrac:     c.MCTS.DirichletFrac,
		PolicyTemperature: c.MCTS.PolicyTemperature,
		ReuseTree:         c.MCTS.ReuseTree,
	}
}

// StockfishConfig converts the opponent section.
func (c Config) StockfishConfig(logger zerolog.Logger) opponent.StockfishConfig {
	sf := opponent.DefaultStockfishConfig()
	sf.Path = c.Opponent.Path
	sf.SkillLevel = c.Opponent.SkillLevel
	sf.EloMin = c.Opponent.EloMin
	sf.EloMax = c.Opponent.EloMax
	sf.MoveTime = c.Opponent.MoveTime
	sf.Reserve = c.Opponent.Reserve
	sf.Depth = c.Opponent.Depth
	sf.MaxMoves = c.Opponent.MaxMoves
	sf.Threads = c.Opponent.Threads
	sf.HashMB = c.Opponent.HashMB
	sf.Logger = logger
	return sf
}

// GameOptions builds the per-game self-play template. Evaluator and Logger
// are left for the caller.
func (c Config) GameOptions() selfplay.Options {
	opts := selfplay.DefaultOptions()
	opts.Simulations = c.MCTS.Simulations
	opts.MaxPlies = c.SelfPlay.MaxPlies
	opts.MCTS = c.MCTSConfig()
	opts.Schedule = c.SelfPlay.Temperature
	opts.StartFENs = c.SelfPlay.StartFENs
	opts.Verbose = c.SelfPlay.Verbose
	opts.OpponentBudget = c.Opponent.MoveTime
	if c.Opponent.Enabled {
		opts.OpponentGames = c.Opponent.GameFraction
		opts.OpponentPlies = c.Opponent.PlyFraction
	}
	return opts
}
