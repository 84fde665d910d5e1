package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retry.MaxAttempts != 15 {
		t.Fatalf("expected 15 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Scheduler.BatchSize != 10 {
		t.Fatalf("expected batch size 10, got %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Scheduler.Delay != 15*time.Minute {
		t.Fatalf("expected 15m delay, got %v", cfg.Scheduler.Delay)
	}
	if got := cfg.RequestTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %v", got)
	}
	if len(cfg.IPFS.Gateways) != 2 || cfg.IPFS.Gateways[0] != "https://ipfs.io/ipfs/" {
		t.Fatalf("unexpected gateways %v", cfg.IPFS.Gateways)
	}
	if len(cfg.Chains) != 4 {
		t.Fatalf("expected default chain table, got %d chains", len(cfg.Chains))
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
storage:
  root: /srv/mixtapes
  images: true
task_source:
  base_url: https://tasks.example.com/list
http:
  timeout_seconds: 20
retry:
  max_attempts: 3
scheduler:
  chains: [polygon]
  delay: 1m
  batch_size: 5
chains:
  - name: polygon
    prefix: poly
    standard: erc1155
    rpc_url: https://polygon.example
    sample_token_id: 7
rpc:
  polygon:
    secondary: https://backup.example
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Root != "/srv/mixtapes" || !cfg.Storage.Images {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Scheduler.BatchSize != 5 {
		t.Fatalf("expected retry/scheduler overrides")
	}
	if cfg.Scheduler.Delay != time.Minute {
		t.Fatalf("expected 1m delay, got %v", cfg.Scheduler.Delay)
	}
	table := cfg.ChainTable()
	if len(table) != 1 {
		t.Fatalf("expected one chain, got %d", len(table))
	}
	poly := table[0]
	if poly.Standard != chain.ERC1155 || poly.SampleTokenID != 7 {
		t.Fatalf("unexpected chain %+v", poly)
	}
	if poly.SecondaryRPCURL != "https://backup.example" {
		t.Fatalf("expected secondary override, got %q", poly.SecondaryRPCURL)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Storage:   StorageConfig{Root: "data", Backend: "local"},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
		IPFS:      IPFSConfig{Gateways: []string{"https://ipfs.io/ipfs/"}},
		Retry:     RetryConfig{MaxAttempts: 15},
		Scheduler: SchedulerConfig{BatchSize: 10},
		Chains:    chain.Defaults(),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing root", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs"; c.Storage.Images = true }, "storage.gcs_bucket"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"no gateways", func(c *Config) { c.IPFS.Gateways = nil }, "ipfs.gateways"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"zero batch", func(c *Config) { c.Scheduler.BatchSize = 0 }, "scheduler.batch_size"},
		{"server without port", func(c *Config) { c.Server.Enabled = true }, "server.port"},
		{"topic without project", func(c *Config) { c.Publish.PubSub.TopicName = "mixtapes" }, "publish.pubsub.project_id"},
		{"bad chain", func(c *Config) { c.Chains = []chain.Chain{{Name: "x"}} }, "chains"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Chains = append([]chain.Chain(nil), base.Chains...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
