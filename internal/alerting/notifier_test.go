package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	return Notification{
		ObservedAt:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		LastPrice:      decimal.RequireFromString("0.0452"),
		PredictedPrice: decimal.RequireFromString("0.0475"),
		ChangePct:      decimal.RequireFromString("5.09"),
		ThresholdPct:   decimal.RequireFromString("2.0"),
		Direction:      "up",
		Source:         "heuristic",
		Explanation:    "Based on the 5 most recent prices, an upward trend of 5.00% is observed.",
	}
}

func TestTelegramNotifySendsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("malformed payload: %v", err)
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("bot-token", "chat-42", server.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	if gotPath != "/botbot-token/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotPayload["chat_id"] != "chat-42" {
		t.Fatalf("unexpected chat id %q", gotPayload["chat_id"])
	}

	text := gotPayload["text"]
	for _, want := range []string{
		"[FLR/USD Prediction Alert]",
		"Last price: 0.0452 USD",
		"Predicted: 0.0475 USD",
		"Change: 5.09% (threshold 2.00%)",
		"Direction: up",
		"Source: heuristic",
		"upward trend",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifyRejectsNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "ok=false") {
		t.Fatalf("expected an ok=false error, got %v", err)
	}
}

func TestTelegramNotifyRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "418") {
		t.Fatalf("expected a status error, got %v", err)
	}
}
