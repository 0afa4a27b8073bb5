package inference

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
)

// OnnxPool fans out Evaluate calls across multiple OnnxClient instances.
// Each client has its own batching loop + ORT session, allowing parallel
// inference execution on the GPU.
//
// Note: ORT environment initialization is process-global; OnnxClient handles
// that internally.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

var _ mcts.Evaluator = (*OnnxPool)(nil)

func (p *OnnxPool) Stats() RuntimeStats {
	var batches, items, runNanos, last int64
	queue := 0

	for _, c := range p.clients {
		st := c.Stats()
		batches += st.TotalBatches
		items += st.TotalItems
		runNanos += st.TotalRunNanos
		queue += st.QueueLen
		if st.LastBatchSize > last {
			last = st.LastBatchSize
		}
	}
	return newRuntimeStats(batches, items, runNanos, last, queue)
}

func NewOnnxClientPool(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}

	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}

	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *OnnxPool) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	if len(p.clients) == 0 {
		return mcts.Prediction{}, fmt.Errorf("onnx pool has no clients")
	}
	idx := int(p.rr.Add(1)-1) % len(p.clients)
	return p.clients[idx].Evaluate(ctx, in)
}
