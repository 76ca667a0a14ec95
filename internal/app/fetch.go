package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"flrpredict/internal/fetcher"
)

// Fetch retrieves recent observations and prints them newest first.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) error {
	history := a.newHistory(a.newOracle())

	series, err := history.FetchRecent(ctx, opts.Count)
	if err != nil {
		if errors.Is(err, fetcher.ErrNoDataAvailable) {
			fmt.Fprintln(os.Stdout, "no observations recorded yet; run `flrpredict record` first")
			return nil
		}
		return err
	}

	// Display order is newest first; retrieval order is whatever the
	// winning strategy produced.
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp > series[j].Timestamp
	})

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice (USD)")
	for _, obs := range series {
		fmt.Fprintf(writer, "%s\t%.4f\n", time.Unix(obs.Timestamp, 0).UTC().Format(time.RFC3339), obs.Price)
	}
	return writer.Flush()
}
