package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SleepFunc suspends between retry attempts. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// HistoryOptions tune the layered retrieval strategy.
type HistoryOptions struct {
	// MaxBatch is the largest n the direct batch strategy will attempt.
	MaxBatch int
	// MaxAttempts bounds the retry wrapper around the whole strategy
	// sequence.
	MaxAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// Sleep overrides the delay implementation.
	Sleep SleepFunc
}

// History retrieves recent observations from a Source, tolerating a batch
// primitive that rejects requests larger than the recorded history and a
// source that has not been written to yet.
type History struct {
	source Source
	opts   HistoryOptions
	logger zerolog.Logger
}

// NewHistory constructs the layered retrieval engine.
func NewHistory(source Source, opts HistoryOptions, logger zerolog.Logger) *History {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 20
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepWithContext
	}
	return &History{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// FetchRecent returns up to n of the most recent observations. Transient
// failures (history not yet populated, flaky calls) are retried up to
// MaxAttempts with RetryDelay between attempts; anything else propagates
// immediately.
func (h *History) FetchRecent(ctx context.Context, n int) ([]Observation, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: n must be >= 1, got %d", ErrInvalidArgument, n)
	}

	var last error
	for attempt := 1; attempt <= h.opts.MaxAttempts; attempt++ {
		observations, err := h.attempt(ctx, n)
		if err == nil {
			return observations, nil
		}
		if !transient(err) {
			return nil, err
		}

		last = err
		if attempt == h.opts.MaxAttempts {
			break
		}

		h.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", h.opts.MaxAttempts).
			Dur("retry_delay", h.opts.RetryDelay).
			Msg("retrieval attempt failed, retrying")

		if err := h.opts.Sleep(ctx, h.opts.RetryDelay); err != nil {
			return nil, err
		}
	}

	if errors.Is(last, ErrNoDataAvailable) {
		return nil, ErrNoDataAvailable
	}
	return nil, &ExhaustedError{Attempts: h.opts.MaxAttempts, Last: last}
}

// attempt runs the three layered strategies once: direct batch read, then
// existence probing, then a bounded batch with a manual indexed fallback.
func (h *History) attempt(ctx context.Context, n int) ([]Observation, error) {
	// Strategy 1: ask the batch primitive directly for sane sizes. It
	// reverts when fewer than n records exist, so failure here just means
	// we have to discover the real history length first.
	if n <= h.opts.MaxBatch {
		records, err := h.source.ReadBatch(ctx, n)
		if err == nil {
			return normalizeRecords(records)
		}
		if !errors.Is(err, ErrInsufficientData) && !errors.Is(err, ErrCallFailed) {
			return nil, err
		}
		h.logger.Debug().Err(err).Int("n", n).Msg("direct batch read rejected, probing history length")
	}

	// Strategy 2: probe sequential indices to find how many records
	// actually exist. The probe must stay sequential: the boundary is
	// exactly the first index that fails.
	historyLength, err := h.probeLength(ctx)
	if err != nil {
		return nil, err
	}
	if historyLength == 0 {
		return nil, ErrNoDataAvailable
	}

	// Strategy 3: retry the batch primitive with a count the source is
	// known to hold, falling back to manual indexed reads.
	actualN := historyLength
	if n < actualN {
		actualN = n
	}

	records, err := h.source.ReadBatch(ctx, actualN)
	if err == nil {
		return normalizeRecords(records)
	}
	if !transient(err) {
		return nil, err
	}
	h.logger.Debug().Err(err).Int("actual_n", actualN).Msg("bounded batch read failed, reading indices manually")

	return h.readManual(ctx, historyLength-actualN, historyLength)
}

// probeLength counts records by reading indices from zero until a read
// falls out of range.
func (h *History) probeLength(ctx context.Context) (int, error) {
	length := 0
	for {
		_, err := h.source.ReadAt(ctx, length)
		if err == nil {
			length++
			continue
		}
		if errors.Is(err, ErrOutOfRange) {
			return length, nil
		}
		if length == 0 {
			// Index 0 unreadable for another reason still means no
			// usable data yet; let the retry wrapper decide.
			if transient(err) {
				return 0, nil
			}
			return 0, err
		}
		return 0, err
	}
}

// readManual normalizes records at indices [from, to) one by one.
func (h *History) readManual(ctx context.Context, from, to int) ([]Observation, error) {
	observations := make([]Observation, 0, to-from)
	for i := from; i < to; i++ {
		record, err := h.source.ReadAt(ctx, i)
		if err != nil {
			return nil, err
		}
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

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
