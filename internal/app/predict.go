package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"flrpredict/internal/fetcher"
	"flrpredict/internal/service"
)

// Predict fetches recent observations and runs the prediction cascade
// once, printing the result. An explicit price list bypasses the oracle
// entirely, which is useful for dry runs without RPC access.
func (a *App) Predict(ctx context.Context, opts PredictOptions) error {
	var series []fetcher.Observation
	if len(opts.Prices) > 0 {
		series = syntheticSeries(opts.Prices)
	} else {
		history := a.newHistory(a.newOracle())

		var err error
		series, err = history.FetchRecent(ctx, opts.Count)
		if err != nil {
			if errors.Is(err, fetcher.ErrNoDataAvailable) {
				return errors.New("no observations recorded yet; run `flrpredict record` first")
			}
			return err
		}
	}

	service.SortAscending(series)

	if len(series) < 2 {
		a.Logger.Warn().Int("count", len(series)).Msg("fewer than 2 observations; trend estimation will be trivial")
	}

	result, err := a.newCascade().Predict(ctx, series)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Predicted next FLR/USD price: %.4f\n", result.Price)
	fmt.Fprintf(os.Stdout, "Source: %s\n", result.Source)
	fmt.Fprintf(os.Stdout, "Generated at: %s\n", time.Unix(result.GeneratedAt, 0).UTC().Format(time.RFC3339))
	if result.Explanation != "" {
		fmt.Fprintf(os.Stdout, "\n%s\n", result.Explanation)
	}
	return nil
}

// syntheticSeries spaces the given prices one interval apart ending now,
// oldest first.
func syntheticSeries(prices []float64) []fetcher.Observation {
	now := time.Now().Unix()
	series := make([]fetcher.Observation, 0, len(prices))
	for i, price := range prices {
		series = append(series, fetcher.Observation{
			Price:     price,
			Timestamp: now - int64(len(prices)-1-i)*3600,
		})
	}
	return series
}
