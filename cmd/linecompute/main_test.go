package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/linecompute/pkg/models"
)

func TestOverrideAddr(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "127.0.0.1:5555"},
		{[]string{"--port", "6000"}, "127.0.0.1:6000"},
		{[]string{"--host", "0.0.0.0"}, "0.0.0.0:5555"},
		{[]string{"--host", "::1", "--port", "7"}, "[::1]:7"},
	}
	for _, tt := range tests {
		cmd := &cobra.Command{}
		cmd.Flags().String("host", "127.0.0.1", "")
		cmd.Flags().Int("port", 5555, "")
		if err := cmd.Flags().Parse(tt.args); err != nil {
			t.Fatal(err)
		}
		got, err := overrideAddr(cmd, "127.0.0.1:5555", "host", "port")
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		if got != tt.want {
			t.Errorf("%v: expected %s, got %s", tt.args, tt.want, got)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	msg, err := buildRequest("calc", "2**6", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if msg["mode"] != "calc" || msg["data"].(map[string]any)["expr"] != "2**6" {
		t.Errorf("unexpected request %v", msg)
	}
	if msg["options"].(map[string]any)["cache"] != false {
		t.Errorf("--no-cache should disable caching, got %v", msg["options"])
	}

	if _, err := buildRequest("calc", "", "", false); err == nil {
		t.Error("expected error for missing --expr")
	}
	if _, err := buildRequest("gpt", "", "", false); err == nil {
		t.Error("expected error for missing --prompt")
	}
	if _, err := buildRequest("sql", "", "", false); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestFormatExchanges(t *testing.T) {
	if got := formatExchanges(nil); got != "No exchanges found.\n" {
		t.Errorf("unexpected empty output %q", got)
	}
	out := formatExchanges([]models.Exchange{{
		ConnID:    "conn-1",
		Role:      "proxy",
		Mode:      "calc",
		Error:     "Server unavailable. Cache miss.",
		TookMs:    12,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	for _, want := range []string{"conn-1", "proxy", "12ms", "2026-01-02 03:04:05", "Cache miss"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
