package fetcher

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// Normalize converts a fixed-point magnitude and signed scale into a
// float: value = magnitude * 10^-scale. The feed publishes FLR/USD with a
// small positive scale, but negative scales (left shifts) are valid too.
func Normalize(magnitude *big.Int, scale int8) (float64, error) {
	if magnitude == nil {
		return 0, fmt.Errorf("%w: nil magnitude", ErrNormalization)
	}
	if magnitude.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative magnitude %s", ErrNormalization, magnitude)
	}

	value := decimal.NewFromBigInt(magnitude, -int32(scale)).InexactFloat64()
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("%w: %s * 10^%d overflows", ErrNormalization, magnitude, -scale)
	}
	return value, nil
}

// normalizeRecords converts a batch of raw records in order.
func normalizeRecords(records []RawRecord) ([]Observation, error) {
	observations := make([]Observation, 0, len(records))
	for _, record := range records {
		price, err := Normalize(record.Value, record.Decimals)
		if err != nil {
			return nil, err
		}
		observations = append(observations, Observation{
			Price:     price,
			Timestamp: int64(record.Timestamp),
		})
	}
	return observations, nil
}
