package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brensch/chesszero/executor/inference"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/rs/zerolog"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Evaluator opens the evaluator described by the model section: a remote
// server when RemoteURL is set, otherwise an ONNX session pool. A missing or
// unloadable model falls back to the uniform evaluator unless Require is set.
//
// The returned value also implements Stats() inference.RuntimeStats when it is
// backed by ONNX.
func (c Config) Evaluator(ctx context.Context, logger zerolog.Logger) (mcts.Evaluator, io.Closer, error) {
	m := c.Model
	if m.RemoteURL != "" {
		rc, err := inference.DialRemote(ctx, m.RemoteURL, inference.RemoteConfig{Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("dial evaluator %s: %w", m.RemoteURL, err)
		}
		logger.Info().Str("url", m.RemoteURL).Msg("using remote evaluator")
		return rc, rc, nil
	}

	_, statErr := os.Stat(m.Path)
	if statErr == nil {
		pool, err := inference.NewOnnxClientPool(m.Path, m.Sessions, inference.OnnxClientConfig{
			BatchSize:    m.BatchSize,
			BatchTimeout: m.BatchTimeout,
			DisableCUDA:  !m.CUDA,
			Logger:       logger,
		})
		if err == nil {
			logger.Info().Str("model", m.Path).Int("sessions", m.Sessions).Int("batch", m.BatchSize).Msg("onnx evaluator ready")
			return pool, pool, nil
		}
		statErr = err
	}
	if m.Require {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("model file not found: %s", m.Path)
		}
		return nil, nil, fmt.Errorf("load model %s: %w", m.Path, statErr)
	}
	logger.Warn().Err(statErr).Str("model", m.Path).Msg("falling back to uniform evaluator")
	return inference.Uniform{}, nopCloser{}, nil
}
