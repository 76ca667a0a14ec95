package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent predictions from storage.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show predictions")
	}
	if closeStore != nil {
		defer closeStore()
	}

	predictions, err := store.ListRecentPredictions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(predictions) == 0 {
		fmt.Fprintln(os.Stdout, "no predictions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Generated (UTC)\tPredicted\tLast Observed\tSource\tSeries\tExplanation")

	for _, prediction := range predictions {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\n",
			prediction.GeneratedAt.UTC().Format(time.RFC3339),
			prediction.Price.StringFixed(4),
			prediction.LastObserved.StringFixed(4),
			prediction.Source,
			prediction.SeriesCount,
			sanitizeInline(truncateInline(prediction.Explanation, 80)),
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func truncateInline(v string, max int) string {
	if len(v) <= max {
		return v
	}
	return v[:max] + "..."
}
