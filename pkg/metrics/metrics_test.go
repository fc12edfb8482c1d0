package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pario-ai/linecompute/pkg/cache/lru"
)

func TestObserveRequest(t *testing.T) {
	m := New("test")
	m.ObserveRequest("server", "calc", OutcomeOK, 3*time.Millisecond)
	m.ObserveRequest("server", "calc", OutcomeOK, time.Millisecond)
	m.ObserveRequest("server", "gpt", OutcomeBackendError, time.Millisecond)

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("server", "calc", OutcomeOK)); got != 2 {
		t.Errorf("expected 2 ok calc requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("server", "gpt", OutcomeBackendError)); got != 1 {
		t.Errorf("expected 1 backend error, got %v", got)
	}
}

func TestCacheLookupAndConnections(t *testing.T) {
	m := New("test")
	m.CacheLookup("proxy", true)
	m.CacheLookup("proxy", false)
	m.CacheLookup("proxy", false)
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("proxy", "miss")); got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}

	m.ConnOpened("server")
	m.ConnOpened("server")
	m.ConnClosed("server")
	if got := testutil.ToFloat64(m.ActiveConnections.WithLabelValues("server")); got != 1 {
		t.Errorf("expected 1 active connection, got %v", got)
	}
	if got := testutil.ToFloat64(m.Connections.WithLabelValues("server")); got != 2 {
		t.Errorf("expected 2 accepted connections, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("server", "calc", OutcomeOK, time.Millisecond)
	m.CacheLookup("server", true)
	m.ConnOpened("server")
	m.ConnClosed("server")
	m.MalformedFrame("server")
	m.UpstreamFailure("dial")
	if err := m.RegisterCache("test", "server", nil); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterCache(t *testing.T) {
	m := New("test")
	c, err := lru.New(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterCache("test", "server", c); err != nil {
		t.Fatal(err)
	}
	c.Set("a", 1)
	c.Set("b", 2)

	expected := `
# HELP test_cache_evictions_total Entries evicted from the result cache
# TYPE test_cache_evictions_total counter
test_cache_evictions_total{role="server"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_cache_evictions_total"); err != nil {
		t.Error(err)
	}

	if err := m.RegisterCache("test", "server", c); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRouter(t *testing.T) {
	m := New("test")
	m.UpstreamFailure("dial")
	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `test_upstream_failures_total{reason="dial"} 1`) {
		t.Errorf("metrics output missing upstream failure counter:\n%s", body)
	}
}
