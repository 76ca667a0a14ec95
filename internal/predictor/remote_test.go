package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func chatResponse(content string) string {
	payload := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestMistralSkipsWithoutAPIKey(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	m := NewMistral(MistralOptions{BaseURL: server.URL}, zerolog.Nop())
	result, err := m.Attempt(context.Background(), series(1, 2, 3))
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected a decline, got %+v", result)
	}
	if hits != 0 {
		t.Fatalf("endpoint must not be contacted without a key, got %d hits", hits)
	}
}

func TestMistralParsesCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("malformed request body: %v", err)
		}
		if req.Model != "mistral-small-latest" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 3 {
			t.Errorf("expected 3 messages, got %d", len(req.Messages))
		} else {
			last := req.Messages[2]
			if last.Role != "assistant" || !last.Prefix {
				t.Errorf("expected a prefixed assistant turn, got %+v", last)
			}
		}
		if !strings.Contains(req.Messages[1].Content, "Price history:") {
			t.Errorf("user prompt missing the price history block")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatResponse("The next predicted price is 0.0452 USD. This prediction is based on an upward trend.")))
	}))
	defer server.Close()

	m := NewMistral(MistralOptions{BaseURL: server.URL, APIKey: "test-key"}, zerolog.Nop())
	result, err := m.Attempt(context.Background(), series(0.044, 0.0445, 0.045))
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if math.Abs(result.Price-0.0452) > 1e-12 {
		t.Fatalf("price = %v, want 0.0452", result.Price)
	}
	if result.Source != SourceMistral {
		t.Fatalf("unexpected source %q", result.Source)
	}
	if !strings.Contains(result.Explanation, "upward trend") {
		t.Fatalf("unexpected explanation %q", result.Explanation)
	}
}

func TestMistralDeclinesOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	m := NewMistral(MistralOptions{BaseURL: server.URL, APIKey: "bad-key"}, zerolog.Nop())
	result, err := m.Attempt(context.Background(), series(1, 2))
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected a decline on 401, got %+v", result)
	}
}

func TestMistralDeclinesOnUnparseableContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse("I cannot provide a numeric forecast at this time.")))
	}))
	defer server.Close()

	m := NewMistral(MistralOptions{BaseURL: server.URL, APIKey: "test-key"}, zerolog.Nop())
	result, err := m.Attempt(context.Background(), series(1, 2))
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected a decline for unparseable content, got %+v", result)
	}
}

func TestMistralDeclinesOnEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	m := NewMistral(MistralOptions{BaseURL: server.URL, APIKey: "test-key"}, zerolog.Nop())
	result, err := m.Attempt(context.Background(), series(1, 2))
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if result != nil {
		t.Fatalf("expected a decline for an empty choice list, got %+v", result)
	}
}

func TestMistralSurfacesCancellationMidBody(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Advertise a body, send the headers, then stall so the caller's
		// deadline fires while the body is being read.
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", "4096")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	m := NewMistral(MistralOptions{BaseURL: server.URL, APIKey: "test-key"}, zerolog.Nop())
	_, err := m.Attempt(ctx, series(1, 2))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestMistralSurfacesCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatResponse("The next predicted price is 1.0")))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMistral(MistralOptions{BaseURL: server.URL, APIKey: "test-key"}, zerolog.Nop())
	if _, err := m.Attempt(ctx, series(1, 2)); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
