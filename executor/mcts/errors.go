package mcts

import "errors"

var (
	// ErrEvaluator wraps every failure to obtain a prediction, including
	// encoding failures.
	ErrEvaluator = errors.New("evaluator failed")
	// ErrEncoding marks positions that could not be converted to model input.
	ErrEncoding     = errors.New("position encoding failed")
	ErrNoLegalMoves = errors.New("no legal moves at root")
)
