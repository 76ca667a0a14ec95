package predictor

import (
	"fmt"
	"strings"
	"time"

	"flrpredict/internal/fetcher"
)

// SeriesStats summarises an observation series for the inference prompt.
// Derived per request, never persisted.
type SeriesStats struct {
	Min         float64
	Max         float64
	Avg         float64
	Count       int
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// ComputeStats derives summary statistics over a series ordered oldest to
// newest.
func ComputeStats(series []fetcher.Observation) SeriesStats {
	if len(series) == 0 {
		return SeriesStats{}
	}

	stats := SeriesStats{
		Min:         series[0].Price,
		Max:         series[0].Price,
		Count:       len(series),
		PeriodStart: time.Unix(series[0].Timestamp, 0).UTC(),
		PeriodEnd:   time.Unix(series[len(series)-1].Timestamp, 0).UTC(),
	}

	var sum float64
	for _, obs := range series {
		if obs.Price < stats.Min {
			stats.Min = obs.Price
		}
		if obs.Price > stats.Max {
			stats.Max = obs.Price
		}
		sum += obs.Price
	}
	stats.Avg = sum / float64(len(series))
	return stats
}

func (s SeriesStats) format() string {
	return fmt.Sprintf(
		"- Number of observations: %d\n- Minimum price: $%.4f\n- Maximum price: $%.4f\n- Average price: $%.4f\n- Period: %s to %s",
		s.Count, s.Min, s.Max, s.Avg,
		s.PeriodStart.Format(time.RFC3339), s.PeriodEnd.Format(time.RFC3339),
	)
}

// formatSeries renders the numbered (value, timestamp) list embedded in the
// prompt's user turn.
func formatSeries(series []fetcher.Observation) string {
	var b strings.Builder
	for i, obs := range series {
		fmt.Fprintf(&b, "#%d: $%.4f (%s)\n", i+1, obs.Price, time.Unix(obs.Timestamp, 0).UTC().Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}
