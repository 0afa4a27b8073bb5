package inference

import "math"

// RuntimeStats reports batching behaviour for the progress display.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

func newRuntimeStats(batches, items, runNanos, last int64, queue int) RuntimeStats {
	avgBatch := 0.0
	avgRunMs := 0.0
	if batches > 0 {
		avgBatch = float64(items) / float64(batches)
		avgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: last,
		QueueLen:      queue,
		AvgBatchSize:  avgBatch,
		AvgRunMs:      avgRunMs,
	}
}

// Softmax writes softmax(logits) into dst.
func Softmax(dst, logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxV)))
		dst[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range logits {
			dst[i] *= inv
		}
	}
}

// WinrateToValue maps the model's sigmoid win rate onto [-1, 1].
func WinrateToValue(w float32) float32 {
	v := 2*w - 1
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
