package fetcher

import (
	"context"
	"math/big"
)

// RawRecord is a price entry as the PriceRecorder contract stores it:
// a fixed-point magnitude plus a signed decimal scale.
type RawRecord struct {
	Value     *big.Int
	Decimals  int8
	Timestamp uint64
}

// Observation is one normalized price/time sample.
type Observation struct {
	Price     float64
	Timestamp int64
}

// Source reads recorded prices from the ledger.
type Source interface {
	// ReadBatch returns the last n records. The contract rejects the call
	// with InsufficientData when fewer than n records exist.
	ReadBatch(ctx context.Context, n int) ([]RawRecord, error)
	// ReadAt returns the record at index. Reads past the end of the
	// history array revert.
	ReadAt(ctx context.Context, index int) (RawRecord, error)
}

// Recorder submits a new price observation to the ledger.
type Recorder interface {
	Record(ctx context.Context) (RecordReceipt, error)
}

// RecordReceipt describes a confirmed recordPrice transaction.
type RecordReceipt struct {
	TxHash   string
	GasUsed  uint64
	Recorded *RawRecord // decoded PriceRecorded event, nil when not emitted
}
