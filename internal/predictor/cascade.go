package predictor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"flrpredict/internal/fetcher"
)

// Prediction sources, in cascade priority order.
const (
	SourceMistral   = "mistral"
	SourceONNX      = "onnx"
	SourceHeuristic = "heuristic"
	SourceFallback  = "fallback"
)

var (
	// ErrEmptySeries indicates a prediction was requested on an empty
	// series. Not retried.
	ErrEmptySeries = errors.New("predictor: empty series")
	// ErrCascadeExhausted indicates every registered strategy declined.
	// Unreachable when the heuristic stage is registered.
	ErrCascadeExhausted = errors.New("predictor: all strategies failed")
)

// Result is the outcome of one prediction request.
type Result struct {
	Price       float64
	Explanation string
	Source      string
	GeneratedAt int64
}

// Strategy is one stage of the prediction cascade. A nil result without an
// error means the stage declined (missing credential, absent artifact);
// an error means the stage tried and failed. The cascade treats both as
// fall-through.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, series []fetcher.Observation) (*Result, error)
}

// Cascade tries strategies in registration order and returns the first
// result produced.
type Cascade struct {
	strategies []Strategy
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCascade builds a prediction cascade. Nil strategies are skipped so
// callers can pass conditionally-constructed stages directly.
func NewCascade(logger zerolog.Logger, strategies ...Strategy) *Cascade {
	kept := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Cascade{
		strategies: kept,
		logger:     logger.With().Str("component", "cascade").Logger(),
		now:        time.Now,
	}
}

// Predict runs the cascade over a series ordered oldest to newest.
func (c *Cascade) Predict(ctx context.Context, series []fetcher.Observation) (*Result, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}

	for _, strategy := range c.strategies {
		result, err := strategy.Attempt(ctx, series)
		if err != nil {
			c.logger.Warn().Err(err).Str("strategy", strategy.Name()).Msg("prediction stage failed, falling through")
			continue
		}
		if result == nil {
			c.logger.Debug().Str("strategy", strategy.Name()).Msg("prediction stage declined")
			continue
		}
		if result.GeneratedAt == 0 {
			result.GeneratedAt = c.now().Unix()
		}
		c.logger.Info().Str("strategy", strategy.Name()).Float64("price", result.Price).Msg("prediction produced")
		return result, nil
	}

	return nil, ErrCascadeExhausted
}
