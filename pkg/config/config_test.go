package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Listen != "127.0.0.1:5555" {
		t.Errorf("expected 127.0.0.1:5555, got %s", cfg.Server.Listen)
	}
	if cfg.Proxy.Listen != "127.0.0.1:5554" {
		t.Errorf("expected 127.0.0.1:5554, got %s", cfg.Proxy.Listen)
	}
	if cfg.Cache.Capacity != 128 {
		t.Errorf("expected capacity 128, got %d", cfg.Cache.Capacity)
	}
	if cfg.Proxy.UpstreamTimeout != 10*time.Second {
		t.Errorf("expected 10s upstream timeout, got %v", cfg.Proxy.UpstreamTimeout)
	}
	if cfg.Generator.Model != "gpt-3.5-turbo" || cfg.Generator.MaxTokens != 150 {
		t.Errorf("unexpected generator defaults: %+v", cfg.Generator)
	}
	if cfg.Audit.Enabled {
		t.Error("expected audit disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultProviderKeyFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	cfg := Default()
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "sk-env" {
		t.Errorf("expected key from environment, got %+v", cfg.Providers)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	content := `
server:
  listen: "0.0.0.0:7000"
  idle_timeout: 2m
proxy:
  upstream: "10.0.0.1:7000"
  upstream_timeout: 3s
cache:
  capacity: 16
providers:
  - name: anthropic
    url: https://api.anthropic.com
    api_key: ${TEST_API_KEY}
    type: anthropic
audit:
  enabled: true
  db_path: audit.db
log:
  level: debug
  format: json
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Listen != "0.0.0.0:7000" {
		t.Errorf("expected 0.0.0.0:7000, got %s", cfg.Server.Listen)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("expected 2m idle timeout, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.Proxy.Listen != "127.0.0.1:5554" {
		t.Errorf("unset proxy.listen should keep its default, got %s", cfg.Proxy.Listen)
	}
	if cfg.Proxy.UpstreamTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %v", cfg.Proxy.UpstreamTimeout)
	}
	if cfg.Cache.Capacity != 16 {
		t.Errorf("expected capacity 16, got %d", cfg.Cache.Capacity)
	}
	if cfg.Providers[0].APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Providers[0].APIKey)
	}
	if !cfg.Audit.Enabled || cfg.Audit.DBPath != "audit.db" {
		t.Errorf("unexpected audit config: %+v", cfg.Audit)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json log format, got %s", cfg.Log.Format)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Cache.Capacity = 0
	cfg.Server.Listen = ""
	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "x", Type: "bogus"})

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"cache.capacity", "server.listen", "bogus"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
