package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/pario-ai/linecompute/pkg/config"
	"github.com/pario-ai/linecompute/pkg/models"
)

func tempCfg(t *testing.T) config.AuditConfig {
	t.Helper()
	return config.AuditConfig{
		Enabled:         true,
		DBPath:          filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays:   90,
		IncludePayloads: true,
	}
}

func mustNew(t *testing.T, cfg config.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleExchange() models.Exchange {
	return models.Exchange{
		ID:        "ex-001",
		ConnID:    "conn-1",
		Role:      "server",
		Mode:      "calc",
		OK:        true,
		FromCache: false,
		Request:   `{"mode":"calc","data":{"expr":"1+1"}}`,
		Response:  `{"ok":true,"result":2}`,
		TookMs:    3,
		CreatedAt: time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleExchange()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.ExchangeQuery{Mode: "calc"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != "ex-001" || e.ConnID != "conn-1" || !e.OK || e.TookMs != 3 {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Request == "" || e.Response == "" {
		t.Error("expected payloads to be stored")
	}
}

func TestLogAssignsID(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	e := sampleExchange()
	e.ID = ""
	e.CreatedAt = time.Time{}
	if err := l.Log(ctx, e); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := l.Query(ctx, models.ExchangeQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].ID == "" {
		t.Fatalf("expected one entry with a generated id, got %+v", entries)
	}
}

func TestQueryFilters(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	ok := sampleExchange()
	failed := sampleExchange()
	failed.ID = "ex-002"
	failed.OK = false
	failed.Error = "Bad request: unknown mode"
	proxied := sampleExchange()
	proxied.ID = "ex-003"
	proxied.Role = "proxy"
	proxied.ConnID = "conn-2"
	for _, e := range []models.Exchange{ok, failed, proxied} {
		if err := l.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	tests := []struct {
		name string
		q    models.ExchangeQuery
		want int
	}{
		{"all", models.ExchangeQuery{}, 3},
		{"failed", models.ExchangeQuery{FailedOnly: true}, 1},
		{"role", models.ExchangeQuery{Role: "proxy"}, 1},
		{"conn", models.ExchangeQuery{ConnID: "conn-1"}, 2},
		{"limit", models.ExchangeQuery{Limit: 2}, 2},
		{"since", models.ExchangeQuery{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(entries) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(entries))
			}
		})
	}
}

func TestPayloadsExcluded(t *testing.T) {
	cfg := tempCfg(t)
	cfg.IncludePayloads = false
	l := mustNew(t, cfg)
	ctx := context.Background()

	if err := l.Log(ctx, sampleExchange()); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := l.Query(ctx, models.ExchangeQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries[0].Request != "" || entries[0].Response != "" {
		t.Errorf("expected payloads to be dropped, got %q / %q", entries[0].Request, entries[0].Response)
	}
}

func TestPayloadTruncation(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	e := sampleExchange()
	e.Request = strings.Repeat("x", maxPayloadSize+100)
	if err := l.Log(ctx, e); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := l.Query(ctx, models.ExchangeQuery{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries[0].Request) != maxPayloadSize {
		t.Errorf("expected truncated request len %d, got %d", maxPayloadSize, len(entries[0].Request))
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	// each "é" is two bytes, so an odd cut lands inside a rune
	s := "a" + strings.Repeat("é", maxPayloadSize)
	got := truncate(s)
	if !utf8.ValidString(got) {
		t.Fatal("truncated payload is not valid UTF-8")
	}
	if len(got) > maxPayloadSize || len(got) < maxPayloadSize-utf8.UTFMax {
		t.Errorf("unexpected truncated length %d", len(got))
	}
}

func TestCloseFlushesAsyncLogs(t *testing.T) {
	cfg := tempCfg(t)
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		e := sampleExchange()
		e.ID = ""
		l.LogAsync(e, func(err error) { t.Errorf("LogAsync: %v", err) })
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	l.LogAsync(sampleExchange(), func(err error) { t.Errorf("LogAsync after Close: %v", err) })

	reopened := mustNew(t, cfg)
	entries, err := reopened.Query(context.Background(), models.ExchangeQuery{Limit: 1000})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != n {
		t.Errorf("expected %d flushed exchanges, got %d", n, len(entries))
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	e := sampleExchange()
	e.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, e)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleExchange())
	hit := sampleExchange()
	hit.ID = "ex-002"
	hit.FromCache = true
	hit.TookMs = 1
	_ = l.Log(ctx, hit)
	failed := sampleExchange()
	failed.ID = "ex-003"
	failed.OK = false
	failed.TookMs = 2
	_ = l.Log(ctx, failed)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 group, got %d", len(stats))
	}
	s := stats[0]
	if s.Count != 3 || s.Hits != 1 || s.Failures != 1 {
		t.Errorf("unexpected stat %+v", s)
	}
	if s.AvgMs != 2 {
		t.Errorf("expected avg 2ms, got %v", s.AvgMs)
	}
	if s.Day == "" {
		t.Error("expected a day")
	}
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleExchange()); err != nil {
		t.Errorf("nil logger should be safe: %v", err)
	}
	l.LogAsync(sampleExchange(), nil)
	if err := l.Close(); err != nil {
		t.Errorf("nil close should be safe: %v", err)
	}
}

func TestNewInvalidPath(t *testing.T) {
	cfg := config.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}
