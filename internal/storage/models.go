package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// ObservationRow is a persisted oracle price observation.
type ObservationRow struct {
	ObservedAt time.Time
	Price      decimal.Decimal
	CreatedAt  time.Time
}

// PredictionRow captures one emitted prediction for auditing and display.
type PredictionRow struct {
	ID           int64
	Price        decimal.Decimal
	Explanation  string
	Source       string
	LastObserved decimal.Decimal
	SeriesCount  int
	GeneratedAt  time.Time
	CreatedAt    time.Time
}
