// Package ml implements the learned half of the breach prediction engine:
// two interchangeable inference backends behind one interface, a serialized
// weights format with explicit version tags, and an ordered fallback chain.
//
// The tensor backend runs on a full autodiff graph with an Adam optimizer;
// the feedforward backend is a hand-rolled network with explicit forward and
// backward passes. Both score on a 0-100 scale at the interface boundary and
// train against targets of score/100.
package ml

import (
	"context"
	"errors"
)

var (
	// ErrNotLoaded is returned by Predict when no weights have been loaded.
	ErrNotLoaded = errors.New("ml: backend has no loaded weights")

	// ErrUnknownWeightsFormat is returned for missing, legacy, or foreign
	// weight blobs. Callers treat it as "no usable model", not a crash.
	ErrUnknownWeightsFormat = errors.New("ml: unknown weights format")

	// ErrDimensionMismatch is returned when weight shapes disagree with the
	// declared feature list or hidden layer sizes.
	ErrDimensionMismatch = errors.New("ml: weight dimensions mismatch")
)

// Example is one training pair. Features are normalized to [0,1] and the
// target is the 0-100 label divided by 100.
type Example struct {
	Features []float64
	Target   float64
}

// TrainConfig carries the hyperparameters for one training run.
type TrainConfig struct {
	LearningRate    float64
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	Seed            int64
}

// EpochStats is one entry of the epoch-by-epoch training history.
type EpochStats struct {
	Epoch              int      `json:"epoch"`
	Loss               float64  `json:"loss"`
	Accuracy           float64  `json:"accuracy"`
	ValidationLoss     *float64 `json:"validationLoss,omitempty"`
	ValidationAccuracy *float64 `json:"validationAccuracy,omitempty"`
}

// TrainResult summarizes a completed training run.
type TrainResult struct {
	FinalLoss          float64
	FinalAccuracy      float64
	ValidationLoss     float64
	ValidationAccuracy float64
	History            []EpochStats
	SampleCount        int
}

// ProgressFunc receives periodic training checkpoints.
type ProgressFunc func(epoch, totalEpochs int, stats EpochStats)

// Backend is the common surface of the two inference implementations.
// A backend moves from unloaded to loaded via LoadWeights or a successful
// Train call; Predict on an unloaded backend returns ErrNotLoaded.
type Backend interface {
	Name() string
	LoadWeights(w *Weights) error
	Predict(ctx context.Context, features []float64) (float64, error)
	Train(ctx context.Context, examples []Example, cfg TrainConfig, onProgress ProgressFunc) (*TrainResult, error)
	ExportWeights() (*Weights, error)
}
