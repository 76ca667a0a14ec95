package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "flrpredict" {
		t.Fatalf("app.name = %q", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("scheduler.interval = %v", cfg.Scheduler.Interval)
	}
	if cfg.Retrieval.HistorySize != 10 || cfg.Retrieval.MaxBatch != 20 || cfg.Retrieval.MaxAttempts != 3 {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.RetryDelay != 2*time.Second {
		t.Fatalf("retrieval.retry_delay = %v", cfg.Retrieval.RetryDelay)
	}
	if cfg.Mistral.Model != "mistral-small-latest" || cfg.Mistral.MaxTokens != 256 {
		t.Fatalf("unexpected mistral defaults: %+v", cfg.Mistral)
	}
	if cfg.Model.ArtifactPath != "model.onnx" {
		t.Fatalf("model.artifact_path = %q", cfg.Model.ArtifactPath)
	}
	if cfg.Alerting.Enabled {
		t.Fatal("alerting must be off by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
scheduler:
  interval: 90s
  record_each_cycle: true
oracle:
  rpc_url: https://flare-api.example/ext/C/rpc
  contract_address: "0x000000000000000000000000000000000000dead"
retrieval:
  history_size: 25
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scheduler.Interval != 90*time.Second {
		t.Fatalf("scheduler.interval = %v", cfg.Scheduler.Interval)
	}
	if !cfg.Scheduler.RecordEachCycle {
		t.Fatal("scheduler.record_each_cycle not set")
	}
	if cfg.Retrieval.HistorySize != 25 {
		t.Fatalf("retrieval.history_size = %d", cfg.Retrieval.HistorySize)
	}
	if cfg.Oracle.ContractAddress != "0x000000000000000000000000000000000000dead" {
		t.Fatalf("oracle.contract_address = %q", cfg.Oracle.ContractAddress)
	}
	// Untouched sections keep their defaults.
	if cfg.Retrieval.MaxAttempts != 3 {
		t.Fatalf("retrieval.max_attempts = %d", cfg.Retrieval.MaxAttempts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FLRPREDICT_MISTRAL_API_KEY", "env-key")
	t.Setenv("FLRPREDICT_RETRIEVAL_HISTORY_SIZE", "15")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mistral.APIKey != "env-key" {
		t.Fatalf("mistral.api_key = %q", cfg.Mistral.APIKey)
	}
	if cfg.Retrieval.HistorySize != 15 {
		t.Fatalf("retrieval.history_size = %d", cfg.Retrieval.HistorySize)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }, "scheduler.interval"},
		{"zero history size", func(c *Config) { c.Retrieval.HistorySize = 0 }, "retrieval.history_size"},
		{"zero attempts", func(c *Config) { c.Retrieval.MaxAttempts = 0 }, "retrieval.max_attempts"},
		{"zero export points", func(c *Config) { c.Export.MaxDataPoints = 0 }, "export.max_data_points"},
		{"negative threshold", func(c *Config) { c.Alerting.ThresholdPct = -1 }, "alerting.threshold_pct"},
		{"telegram without token", func(c *Config) { c.Alerting.Telegram.Enabled = true }, "bot_token"},
		{"telegram without chat", func(c *Config) {
			c.Alerting.Telegram.Enabled = true
			c.Alerting.Telegram.BotToken = "token"
		}, "chat_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}
