package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"flrpredict/internal/fetcher"
)

const (
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	chatCompletionsPath   = "/chat/completions"
	defaultMistralModel   = "mistral-small-latest"

	systemPrompt = `You are a financial analyst specializing in predicting the FLR/USD price on the Flare network.

Your role:
- Analyze the provided historical FLR/USD price data
- Generate an accurate prediction for the next price
- Explain your reasoning in a clear and educational manner
- Mention trend factors, volatility, and regression models
- Structure your response by always starting with the predicted price (numeric format), followed by an explanation

Desired response format:
"The next predicted price is [PRICE] USD. This prediction is based on [EXPLANATION]..."`

	assistantPrefix = "The next predicted price is "
)

// MistralOptions parameterise the remote inference stage.
type MistralOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Mistral asks a hosted chat-completion endpoint for the next price and
// parses the free-text answer. Every internal failure (missing credential,
// transport, status, shape, parsing) is an expected fall-through: the stage
// declines instead of erroring.
type Mistral struct {
	opts    MistralOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewMistral constructs the remote inference stage.
func NewMistral(opts MistralOptions, logger zerolog.Logger) *Mistral {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultMistralModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 256
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}

	return &Mistral{
		opts:    opts,
		logger:  logger.With().Str("component", "mistral").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Name identifies the stage.
func (m *Mistral) Name() string { return SourceMistral }

// Attempt requests a prediction from the chat-completion endpoint.
func (m *Mistral) Attempt(ctx context.Context, series []fetcher.Observation) (*Result, error) {
	if strings.TrimSpace(m.opts.APIKey) == "" {
		m.logger.Debug().Msg("mistral api key not configured, skipping remote inference")
		return nil, nil
	}

	body, err := json.Marshal(m.buildRequest(series))
	if err != nil {
		return nil, err
	}

	endpoint := m.baseURL + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		// Surface cancellation; a dead endpoint is a decline.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn().Err(err).Msg("mistral endpoint unreachable")
		return nil, nil
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn().Err(err).Msg("failed to read mistral response")
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Warn().Int("status", resp.StatusCode).Str("body", truncate(string(payload), 200)).Msg("mistral returned non-success status")
		return nil, nil
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(payload, &completion); err != nil {
		m.logger.Warn().Err(err).Msg("malformed mistral response body")
		return nil, nil
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		m.logger.Warn().Msg("mistral response missing message content")
		return nil, nil
	}

	text := completion.Choices[0].Message.Content
	price, explanation, ok := extractPrediction(text)
	if !ok {
		m.logger.Warn().Str("text", truncate(text, 200)).Msg("no numeric prediction found in mistral response")
		return nil, nil
	}

	return &Result{
		Price:       price,
		Explanation: explanation,
		Source:      SourceMistral,
		GeneratedAt: m.now().Unix(),
	}, nil
}

func (m *Mistral) buildRequest(series []fetcher.Observation) chatCompletionRequest {
	stats := ComputeStats(series)

	userPrompt := fmt.Sprintf(`I need a FLR/USD price prediction based on the following historical data:

%s

Price history:
%s

Can you predict the next price and explain your reasoning?

I require:
1. A precise numeric prediction (start with this)
2. A detailed explanation including trend and your methodology
3. A confidence level for this prediction`, stats.format(), formatSeries(series))

	return chatCompletionRequest{
		Model:     m.opts.Model,
		MaxTokens: m.opts.MaxTokens,
		Stream:    false,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
			// The prefixed assistant turn seeds the response shape the
			// parser expects.
			{Role: "assistant", Content: assistantPrefix, Prefix: true},
		},
		Temperature:      m.opts.Temperature,
		TopP:             0.9,
		PresencePenalty:  0.2,
		FrequencyPenalty: 0.3,
		// Seed ties a session's completions together for traceability;
		// reproducibility is not a goal.
		RandomSeed: m.now().Unix(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Prefix  bool   `json:"prefix,omitempty"`
}

type chatCompletionRequest struct {
	Model            string        `json:"model"`
	MaxTokens        int           `json:"max_tokens"`
	Stream           bool          `json:"stream"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	RandomSeed       int64         `json:"random_seed"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Strategy = (*Mistral)(nil)
