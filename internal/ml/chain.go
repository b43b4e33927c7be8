package ml

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Strategy is one named backend in the inference fallback chain.
type Strategy struct {
	Name    string
	Backend Backend
}

// Chain runs an ordered list of backend strategies, short-circuiting on the
// first success. Failures are logged and swallowed; if every strategy fails
// the chain reports no result rather than an error, so callers can degrade
// to statistical-only output.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Predict returns the first successful score and the name of the strategy
// that produced it. ok is false when no strategy produced a usable score.
func (c *Chain) Predict(ctx context.Context, w *Weights, features []float64) (score float64, backend string, ok bool) {
	score, winner, ok := c.PredictKeep(ctx, w, features)
	return score, winner.Name, ok
}

// PredictKeep is Predict, but it also hands back the strategy that produced
// the score with its weights still loaded, so callers can cache the backend
// instance and skip deserialization on the next call.
func (c *Chain) PredictKeep(ctx context.Context, w *Weights, features []float64) (score float64, winner Strategy, ok bool) {
	for _, s := range c.strategies {
		if err := s.Backend.LoadWeights(w); err != nil {
			logChainFailure(s.Name, "load", err)
			continue
		}
		v, err := s.Backend.Predict(ctx, features)
		if err != nil {
			logChainFailure(s.Name, "predict", err)
			continue
		}
		return v, s, true
	}
	return 0, Strategy{}, false
}

func logChainFailure(backend, stage string, err error) {
	evt := log.Warn()
	if errors.Is(err, ErrUnknownWeightsFormat) || errors.Is(err, context.DeadlineExceeded) {
		evt = log.Info()
	}
	evt.Err(err).Str("backend", backend).Str("stage", stage).Msg("inference strategy failed, trying next")
}
