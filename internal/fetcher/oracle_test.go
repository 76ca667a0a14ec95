package fetcher

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// revertError mimics the rpc error type that carries an ABI revert payload.
type revertError struct {
	msg  string
	data string
}

func (e *revertError) Error() string          { return e.msg }
func (e *revertError) ErrorData() interface{} { return e.data }

func TestClassifyRevertSelectors(t *testing.T) {
	insufficient := &revertError{
		msg:  "execution reverted",
		data: "0x" + hex.EncodeToString(insufficientDataSelector) + strings.Repeat("00", 64),
	}
	if err := classifyRevert(insufficient, ErrOutOfRange); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("InsufficientData selector misclassified: %v", err)
	}

	panicked := &revertError{
		msg:  "execution reverted",
		data: "0x" + hex.EncodeToString(panicSelector) + strings.Repeat("00", 32),
	}
	if err := classifyRevert(panicked, ErrInsufficientData); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("Panic selector misclassified: %v", err)
	}
}

func TestClassifyRevertMessageFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
		want     error
	}{
		{"named custom error", errors.New("execution reverted: InsufficientData(10, 4)"), ErrOutOfRange, ErrInsufficientData},
		{"array bounds text", errors.New("execution reverted: out-of-bounds access"), ErrInsufficientData, ErrOutOfRange},
		{"bare revert uses call sentinel", errors.New("execution reverted"), ErrOutOfRange, ErrOutOfRange},
		{"bare revert other sentinel", errors.New("execution reverted"), ErrInsufficientData, ErrInsufficientData},
		{"unknown provider error", errors.New("connection refused"), ErrOutOfRange, ErrCallFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyRevert(tc.err, tc.sentinel)
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyRevert(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyRevertPreservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := classifyRevert(ctx.Err(), ErrOutOfRange)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must pass through untouched, got %v", err)
	}
	if errors.Is(err, ErrOutOfRange) || errors.Is(err, ErrCallFailed) {
		t.Fatalf("cancellation must not be wrapped in a retrieval sentinel: %v", err)
	}
}

func TestOracleRequiresConfiguration(t *testing.T) {
	oracle := NewOracle(OracleOptions{}, zerolog.Nop())

	if _, err := oracle.ReadBatch(context.Background(), 1); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("ReadBatch without rpc url should fail with a config error, got %v", err)
	}
	if _, err := oracle.ReadAt(context.Background(), 0); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("ReadAt without rpc url should fail with a config error, got %v", err)
	}
	if _, err := oracle.Record(context.Background()); err == nil || !strings.Contains(err.Error(), "private key") {
		t.Fatalf("Record without a key should fail, got %v", err)
	}
}

func TestRevertDataDecoding(t *testing.T) {
	err := &revertError{msg: "execution reverted", data: "0xdeadbeef"}
	data := revertData(err)
	if hex.EncodeToString(data) != "deadbeef" {
		t.Fatalf("unexpected payload %x", data)
	}

	if revertData(errors.New("plain")) != nil {
		t.Fatal("plain errors carry no payload")
	}
}
