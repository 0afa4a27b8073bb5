package selfplay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/brensch/chesszero/executor/mcts"
)

// DebugNode is a JSON-serialisable view of one search tree node.
type DebugNode struct {
	Move       string  `json:"move,omitempty"` // empty for the root
	VisitCount int     `json:"n"`
	ValueSum   float32 `json:"value_sum"`
	Q          float32 `json:"q"`
	PriorProb  float32 `json:"p"`
	FEN        string  `json:"fen,omitempty"`
	Status     string  `json:"status,omitempty"`

	Children []*DebugNode `json:"children,omitempty"`
}

// DebugTurn holds the tree searched before one ply.
type DebugTurn struct {
	Ply    int        `json:"ply"`
	FEN    string     `json:"fen"`
	Move   string     `json:"move"`
	Actor  Actor      `json:"actor"`
	Sims   int        `json:"sims"`
	Cpuct  float32    `json:"cpuct"`
	Policy []float32  `json:"policy"`
	Tree   *DebugNode `json:"tree,omitempty"`
}

type DebugGame struct {
	GameID      string      `json:"game_id"`
	ModelPath   string      `json:"model_path"`
	Termination string      `json:"termination"`
	WhiteResult float32     `json:"white_result"`
	Turns       []DebugTurn `json:"turns"`
}

// DumpTree converts the subtree at the root of t, down to maxDepth plies and
// skipping children with fewer than minVisits visits. Children are ordered
// most visited first.
func DumpTree(t *mcts.Tree, maxDepth, minVisits int) *DebugNode {
	if t == nil || t.Len() == 0 {
		return nil
	}
	return dumpNode(t, 0, maxDepth, minVisits)
}

func dumpNode(t *mcts.Tree, i int32, depth, minVisits int) *DebugNode {
	n := t.Node(i)
	out := &DebugNode{
		VisitCount: n.VisitCount,
		ValueSum:   n.ValueSum,
		Q:          n.Q(),
		PriorProb:  n.PriorProb,
	}
	if n.Move.Valid() {
		out.Move = n.Move.UCI()
	}
	if n.Position != nil {
		out.FEN = n.Position.FEN()
		if n.Status.Terminal() {
			out.Status = n.Status.String()
		}
	}
	if depth <= 0 {
		return out
	}
	first, count := t.Children(i)
	for c := first; c < first+count; c++ {
		if t.Node(c).VisitCount < minVisits {
			continue
		}
		out.Children = append(out.Children, dumpNode(t, c, depth-1, minVisits))
	}
	sort.SliceStable(out.Children, func(a, b int) bool {
		return out.Children[a].VisitCount > out.Children[b].VisitCount
	})
	return out
}

// PlayDebugGame plays one game with opts and captures the search tree behind
// every ply. Trees are cut at maxDepth.
func PlayDebugGame(ctx context.Context, opts Options, modelPath string, maxDepth int, onProgress func(DebugTurn)) (*DebugGame, *GameRecord, error) {
	trees := make(map[int]*DebugNode)
	opts.OnSearch = func(ply int, tree *mcts.Tree) {
		trees[ply] = DumpTree(tree, maxDepth, 1)
	}
	userOnPly := opts.OnPly
	var turns []DebugTurn
	opts.OnPly = func(p Ply) {
		ply := len(turns)
		turn := DebugTurn{
			Ply:    ply,
			FEN:    p.Position.FEN(),
			Move:   p.Move.UCI(),
			Actor:  p.Actor,
			Sims:   p.Stats.Simulations,
			Cpuct:  opts.MCTS.Cpuct,
			Policy: p.Stats.Policy,
			Tree:   trees[ply],
		}
		delete(trees, ply)
		turns = append(turns, turn)
		if onProgress != nil {
			onProgress(turn)
		}
		if userOnPly != nil {
			userOnPly(p)
		}
	}

	rec, err := PlayGame(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return &DebugGame{
		GameID:      rec.ID,
		ModelPath:   modelPath,
		Termination: rec.Termination(),
		WhiteResult: rec.WhiteResult(),
		Turns:       turns,
	}, rec, nil
}

// WriteDebugGame writes g as outDir/<game id>.json and returns the path.
func WriteDebugGame(outDir string, g *DebugGame) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outDir, g.GameID+".json")
	data, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal debug game: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename debug game: %w", err)
	}
	return path, nil
}
