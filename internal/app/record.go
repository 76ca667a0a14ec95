package app

import (
	"context"
	"fmt"
	"os"

	"flrpredict/internal/fetcher"
)

// Record submits a recordPrice transaction and prints the confirmation.
func (a *App) Record(ctx context.Context) error {
	receipt, err := a.newOracle().Record(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "recordPrice confirmed: %s (gas used %d)\n", receipt.TxHash, receipt.GasUsed)
	if receipt.Recorded != nil {
		price, normErr := fetcher.Normalize(receipt.Recorded.Value, receipt.Recorded.Decimals)
		if normErr == nil {
			fmt.Fprintf(os.Stdout, "recorded price: %.4f USD at unix %d\n", price, receipt.Recorded.Timestamp)
		}
	}
	return nil
}
