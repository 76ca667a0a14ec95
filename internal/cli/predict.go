package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"flrpredict/internal/app"
)

var (
	predictCount  int
	predictPrices string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the next FLR/USD price from recent observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PredictOptions{Count: predictCount}

		if predictPrices != "" {
			prices, err := parsePriceList(predictPrices)
			if err != nil {
				return err
			}
			opts.Prices = prices
		} else if predictCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}

		return getApp().Predict(cmd.Context(), opts)
	},
}

func parsePriceList(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	prices := make([]float64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --prices value %q: %w", part, err)
		}
		prices = append(prices, value)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("--prices must contain at least one number")
	}
	return prices, nil
}

func init() {
	predictCmd.Flags().IntVar(&predictCount, "count", 10, "Number of observations to base the prediction on")
	predictCmd.Flags().StringVar(&predictPrices, "prices", "", "Comma-separated price list to predict from instead of fetching")
}
