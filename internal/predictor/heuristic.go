package predictor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flrpredict/internal/fetcher"
)

// heuristicWindow is how many trailing observations feed the weighted
// average.
const heuristicWindow = 5

// Heuristic is the terminal cascade stage: a linearly-weighted trend
// estimator over the most recent observations. It never fails for a
// non-empty series.
type Heuristic struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewHeuristic constructs the weighted-trend estimator.
func NewHeuristic(logger zerolog.Logger) *Heuristic {
	return &Heuristic{
		logger: logger.With().Str("component", "heuristic").Logger(),
		now:    time.Now,
	}
}

// Name identifies the stage.
func (h *Heuristic) Name() string { return SourceHeuristic }

// Attempt estimates the next price from the last observations. The series
// must be ordered oldest to newest.
func (h *Heuristic) Attempt(_ context.Context, series []fetcher.Observation) (*Result, error) {
	if len(series) == 0 {
		return nil, ErrEmptySeries
	}

	window := series
	if len(window) > heuristicWindow {
		window = window[len(window)-heuristicWindow:]
	}

	if len(window) == 1 {
		return &Result{
			Price:       window[0].Price,
			Explanation: "Only one observation available; the next price is estimated as the last recorded price.",
			Source:      SourceHeuristic,
			GeneratedAt: h.now().Unix(),
		}, nil
	}

	var weightedSum, totalWeight float64
	for i, obs := range window {
		weight := float64(i + 1)
		weightedSum += obs.Price * weight
		totalWeight += weight
	}
	weightedAvg := weightedSum / totalWeight

	last := window[len(window)-1].Price
	secondLast := window[len(window)-2].Price
	trend := last - secondLast

	prediction := round4(weightedAvg + 0.5*trend)
	if math.IsNaN(prediction) || math.IsInf(prediction, 0) {
		// Should not happen for normalized inputs; substitute the last
		// known price rather than surface an unusable value.
		return &Result{
			Price:       last,
			Explanation: "Prediction could not be computed. Using the last known price as a substitute.",
			Source:      SourceFallback,
			GeneratedAt: h.now().Unix(),
		}, nil
	}

	return &Result{
		Price:       prediction,
		Explanation: h.explain(len(window), weightedAvg, trend, secondLast),
		Source:      SourceHeuristic,
		GeneratedAt: h.now().Unix(),
	}, nil
}

func (h *Heuristic) explain(count int, weightedAvg, trend, secondLast float64) string {
	// A zero reference price would make the trend percentage undefined;
	// report the market as stable instead of dividing by zero.
	if trend == 0 || secondLast == 0 {
		return fmt.Sprintf(
			"Based on the %d most recent prices, the market is stable. The prediction rests on the weighted average of recent prices (%.4f).",
			count, weightedAvg,
		)
	}

	direction := "upward"
	magnitude := trend
	if trend < 0 {
		direction = "downward"
		magnitude = -trend
	}
	trendPct := magnitude / secondLast * 100

	return fmt.Sprintf(
		"Based on the %d most recent prices, a %s trend of %.2f%% is observed. The prediction adjusts the weighted average of %.4f for this trend.",
		count, direction, trendPct, weightedAvg,
	)
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}

var _ Strategy = (*Heuristic)(nil)
