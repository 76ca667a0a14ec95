package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeSource mimics the oracle contract: ReadBatch rejects requests larger
// than the stored history, ReadAt falls out of range past the last index.
type fakeSource struct {
	records []RawRecord

	// batchErr, when set, makes every ReadBatch call fail with it.
	batchErr error
	// atErr, when set, makes every ReadAt call fail with it.
	atErr error

	batchCalls int
	atCalls    int
}

func (f *fakeSource) ReadBatch(_ context.Context, n int) ([]RawRecord, error) {
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	if n > len(f.records) {
		return nil, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientData, n, len(f.records))
	}
	return f.records[len(f.records)-n:], nil
}

func (f *fakeSource) ReadAt(_ context.Context, index int) (RawRecord, error) {
	f.atCalls++
	if f.atErr != nil {
		return RawRecord{}, f.atErr
	}
	if index < 0 || index >= len(f.records) {
		return RawRecord{}, fmt.Errorf("%w: index %d", ErrOutOfRange, index)
	}
	return f.records[index], nil
}

func rec(magnitude int64, ts uint64) RawRecord {
	return RawRecord{Value: big.NewInt(magnitude), Decimals: 4, Timestamp: ts}
}

func noSleep(calls *int) SleepFunc {
	return func(context.Context, time.Duration) error {
		*calls++
		return nil
	}
}

func newTestHistory(source Source, opts HistoryOptions) *History {
	return NewHistory(source, opts, zerolog.Nop())
}

func TestFetchRecentDirectBatch(t *testing.T) {
	source := &fakeSource{records: []RawRecord{rec(100, 1), rec(200, 2), rec(300, 3)}}
	history := newTestHistory(source, HistoryOptions{})

	observations, err := history.FetchRecent(context.Background(), 3)
	if err != nil {
		t.Fatalf("FetchRecent failed: %v", err)
	}
	if len(observations) != 3 {
		t.Fatalf("got %d observations, want 3", len(observations))
	}
	if source.batchCalls != 1 || source.atCalls != 0 {
		t.Fatalf("expected a single batch read, got batch=%d at=%d", source.batchCalls, source.atCalls)
	}
	if observations[0].Price != 0.01 || observations[0].Timestamp != 1 {
		t.Fatalf("unexpected first observation: %+v", observations[0])
	}
}

func TestFetchRecentNeverExceedsRequested(t *testing.T) {
	source := &fakeSource{}
	for i := int64(0); i < 10; i++ {
		source.records = append(source.records, rec(100+i, uint64(i)))
	}
	history := newTestHistory(source, HistoryOptions{})

	observations, err := history.FetchRecent(context.Background(), 5)
	if err != nil {
		t.Fatalf("FetchRecent failed: %v", err)
	}
	if len(observations) != 5 {
		t.Fatalf("got %d observations, want 5", len(observations))
	}
	// The newest records must be the ones returned.
	if observations[len(observations)-1].Timestamp != 9 {
		t.Fatalf("missing newest record, last timestamp %d", observations[len(observations)-1].Timestamp)
	}
}

func TestFetchRecentProbesWhenHistoryShort(t *testing.T) {
	// Asking for 10 when only 4 exist: the direct read reverts, the probe
	// discovers the real length, and a bounded batch read succeeds.
	source := &fakeSource{records: []RawRecord{rec(1, 1), rec(2, 2), rec(3, 3), rec(4, 4)}}
	history := newTestHistory(source, HistoryOptions{})

	observations, err := history.FetchRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchRecent failed: %v", err)
	}
	if len(observations) != 4 {
		t.Fatalf("got %d observations, want 4", len(observations))
	}
	if source.batchCalls != 2 {
		t.Fatalf("expected direct plus bounded batch reads, got %d", source.batchCalls)
	}
	// Probe walks indices 0..3 plus the out-of-range boundary at 4.
	if source.atCalls != 5 {
		t.Fatalf("expected 5 probe reads, got %d", source.atCalls)
	}
}

func TestFetchRecentManualReadsWhenBatchBroken(t *testing.T) {
	source := &fakeSource{
		records:  []RawRecord{rec(10, 1), rec(20, 2), rec(30, 3)},
		batchErr: fmt.Errorf("%w: rpc flake", ErrCallFailed),
	}
	history := newTestHistory(source, HistoryOptions{})

	observations, err := history.FetchRecent(context.Background(), 2)
	if err != nil {
		t.Fatalf("FetchRecent failed: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("got %d observations, want 2", len(observations))
	}
	if observations[0].Timestamp != 2 || observations[1].Timestamp != 3 {
		t.Fatalf("manual reads returned wrong window: %+v", observations)
	}
}

func TestFetchRecentEmptySourceExhaustsRetries(t *testing.T) {
	source := &fakeSource{}
	sleeps := 0
	history := newTestHistory(source, HistoryOptions{
		MaxAttempts: 3,
		Sleep:       noSleep(&sleeps),
	})

	_, err := history.FetchRecent(context.Background(), 5)
	if !errors.Is(err, ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable, got %v", err)
	}
	if sleeps != 2 {
		t.Fatalf("expected 2 delays between 3 attempts, got %d", sleeps)
	}
	// Each attempt probes only index 0 before concluding the history is empty.
	if source.atCalls != 3 {
		t.Fatalf("expected 3 probe reads, got %d", source.atCalls)
	}
}

func TestFetchRecentPersistentFailureReportsAttempts(t *testing.T) {
	source := &fakeSource{
		batchErr: fmt.Errorf("%w: node down", ErrCallFailed),
		atErr:    fmt.Errorf("%w: node down", ErrCallFailed),
	}
	sleeps := 0
	history := newTestHistory(source, HistoryOptions{
		MaxAttempts: 3,
		Sleep:       noSleep(&sleeps),
	})

	_, err := history.FetchRecent(context.Background(), 5)
	if !errors.Is(err, ErrNoDataAvailable) {
		t.Fatalf("expected ErrNoDataAvailable for an unreadable empty probe, got %v", err)
	}
	if sleeps != 2 {
		t.Fatalf("expected 2 delays, got %d", sleeps)
	}
}

func TestFetchRecentRejectsInvalidCount(t *testing.T) {
	source := &fakeSource{records: []RawRecord{rec(1, 1)}}
	history := newTestHistory(source, HistoryOptions{})

	for _, n := range []int{0, -1} {
		_, err := history.FetchRecent(context.Background(), n)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("FetchRecent(%d): expected ErrInvalidArgument, got %v", n, err)
		}
	}
	if source.batchCalls != 0 || source.atCalls != 0 {
		t.Fatalf("invalid count must not touch the source, got batch=%d at=%d", source.batchCalls, source.atCalls)
	}
}

func TestFetchRecentNonTransientStopsImmediately(t *testing.T) {
	fatal := errors.New("malformed response")
	source := &fakeSource{batchErr: fatal}
	sleeps := 0
	history := newTestHistory(source, HistoryOptions{Sleep: noSleep(&sleeps)})

	_, err := history.FetchRecent(context.Background(), 2)
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the fatal error to propagate, got %v", err)
	}
	if sleeps != 0 {
		t.Fatalf("non-transient failures must not be retried, got %d sleeps", sleeps)
	}
	if source.batchCalls != 1 {
		t.Fatalf("expected a single batch call, got %d", source.batchCalls)
	}
}
