package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/brensch/chesszero/game"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	PolicySize = game.VocabSize
	ValueSize  = 1
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// Model tensor names.
var (
	InputNames = []string{
		"board_positions",
		"turns",
		"white_kingside_castling_rights",
		"white_queenside_castling_rights",
		"black_kingside_castling_rights",
		"black_queenside_castling_rights",
	}
	OutputNames = []string{"move", "winrate"}
)

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	DisableCUDA  bool
	Logger       zerolog.Logger
}

type inferenceRequest struct {
	input    convert.Encoded
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// OnnxClient evaluates positions with ONNX Runtime, batching concurrent
// requests from many games into one session run.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig
	done         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var _ mcts.Evaluator = (*OnnxClient)(nil)

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout, Logger: zerolog.Nop()})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}

	if err := initRuntime(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Set intra-op threads to 1 to avoid contention since we have many workers
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !cfg.DisableCUDA {
		// Try to use CUDA if available
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				cfg.Logger.Warn().Err(err).Msg("failed to append CUDA provider")
			} else {
				cfg.Logger.Info().Msg("CUDA provider enabled")
			}
		} else {
			cfg.Logger.Warn().Err(err).Msg("failed to create CUDA options")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, InputNames, OutputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	go client.batchLoop()

	return client, nil
}

func initRuntime() error {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
				"libonnxruntime.so.1.23.2",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to init ort: %w", ortInitErr)
	}
	return nil
}

func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// CUDA and Torch shared libraries from a project-local .venv, whatever the
	// python version.
	candidateDirs := []string{cwd}

	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p == "" {
			continue
		}
		existingSet[p] = true
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.stopped
		err = c.session.Destroy()
	})
	return err
}

// Evaluate queues the position for the next batch and waits for its result.
func (c *OnnxClient) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	respChan := make(chan inferenceResponse, 1)
	req := inferenceRequest{input: *in, respChan: respChan}

	select {
	case c.requestsChan <- req:
	case <-ctx.Done():
		return mcts.Prediction{}, ctx.Err()
	case <-c.done:
		return mcts.Prediction{}, fmt.Errorf("onnx client closed")
	}

	select {
	case resp := <-respChan:
		if resp.err != nil {
			return mcts.Prediction{}, resp.err
		}
		return mcts.Prediction{Policy: resp.policy, Value: resp.value}, nil
	case <-ctx.Done():
		return mcts.Prediction{}, ctx.Err()
	case <-c.done:
		return mcts.Prediction{}, fmt.Errorf("onnx client closed")
	}
}

func (c *OnnxClient) batchLoop() {
	defer close(c.stopped)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.failBatch(requests, fmt.Errorf("onnx client closed"))
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			if len(requests) >= c.cfg.BatchSize {
				c.runBatch(requests)
				requests = requests[:0]
			}
		case <-ticker.C:
			if len(requests) > 0 {
				c.runBatch(requests)
				requests = requests[:0]
			}
		}
	}
}

// batchInputs splits the token rows into the six model input columns.
func batchInputs(requests []inferenceRequest) [6][]int64 {
	n := len(requests)
	var cols [6][]int64
	cols[0] = make([]int64, 0, n*convert.BoardTokens)
	for i := 1; i < len(cols); i++ {
		cols[i] = make([]int64, 0, n)
	}
	for _, req := range requests {
		cols[0] = append(cols[0], req.input.Board()...)
		cols[1] = append(cols[1], req.input.Turn())
		castling := req.input.Castling()
		for j, v := range castling {
			cols[2+j] = append(cols[2+j], v)
		}
	}
	return cols
}

func (c *OnnxClient) runBatch(requests []inferenceRequest) {
	currentBatchSize := int64(len(requests))
	cols := batchInputs(requests)

	inputs := make([]ort.Value, 0, len(cols))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for i, col := range cols {
		shape := ort.NewShape(currentBatchSize, 1)
		if i == 0 {
			shape = ort.NewShape(currentBatchSize, convert.BoardTokens)
		}
		t, err := ort.NewTensor(shape, col)
		if err != nil {
			c.failBatch(requests, fmt.Errorf("input %s: %w", InputNames[i], err))
			return
		}
		inputs = append(inputs, t)
	}

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, PolicySize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, ValueSize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	start := time.Now()
	err = c.session.Run(inputs, []ort.Value{policyTensor, valueTensor})
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	c.totalRunNanos.Add(time.Since(start).Nanoseconds())
	c.totalBatches.Add(1)
	c.totalItems.Add(currentBatchSize)
	c.lastBatchSize.Store(currentBatchSize)

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		Softmax(policy, policyData[i*PolicySize:(i+1)*PolicySize])
		req.respChan <- inferenceResponse{
			policy: policy,
			value:  WinrateToValue(valueData[i]),
		}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}

func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.totalBatches.Load()
	items := c.totalItems.Load()
	runNanos := c.totalRunNanos.Load()
	return newRuntimeStats(batches, items, runNanos, c.lastBatchSize.Load(), len(c.requestsChan))
}
