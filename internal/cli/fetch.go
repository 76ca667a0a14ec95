package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"flrpredict/internal/app"
)

var fetchCount int

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch recent observations from the oracle contract",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		return getApp().Fetch(cmd.Context(), app.FetchOptions{Count: fetchCount})
	},
}

func init() {
	fetchCmd.Flags().IntVar(&fetchCount, "count", 10, "Number of observations to fetch")
}
