// Package inference turns board features into policy and value estimates.
//
// A Backend evaluates batches synchronously; it is either a local ONNX
// session or a client of a remote model server. The Pipeline batches single
// evaluation requests from many search goroutines onto one worker per
// backend, retrying batches the backend reports as timed out.
package inference

import (
	"context"

	"github.com/brensch/gozero/executor/config"
	"github.com/brensch/gozero/game"
)

const (
	InputDim  = game.FeatureSize
	OutputDim = game.PolicySize
)

// Backend is a model handle. Implementations need not be safe for
// concurrent Forward calls; the pipeline drives each from one goroutine.
type Backend interface {
	Init(ctx context.Context, cfg config.ModelConfig) error
	GlobalStep(ctx context.Context) (int64, error)
	// Forward returns one OutputDim policy and one value per input.
	Forward(ctx context.Context, inputs [][]bool) ([][]float32, []float32, error)
	// Wait blocks until the backend can accept work.
	Wait(ctx context.Context)
	// RPCQueueSize is the number of outstanding remote calls.
	RPCQueueSize() int
	Close() error
}

// ForwardFunc receives the outcome of an asynchronous Forward.
type ForwardFunc func(policy [][]float32, value []float32, err error)

// AsyncBackend can run several batches concurrently. done is called exactly
// once, possibly on another goroutine.
type AsyncBackend interface {
	Backend
	ForwardAsync(inputs [][]bool, done ForwardFunc)
}
