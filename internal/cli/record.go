package cli

import (
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the current oracle price on-chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Record(cmd.Context())
	},
}
