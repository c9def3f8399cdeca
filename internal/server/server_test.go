package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/logging"
)

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	cfg := &Config{Logger: logging.Discard(), MetricsRegistry: reg, MetricsGatherer: reg, Host: "::1"}
	s, err := New(&fakeBackend{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)

	if s.httpServer.Addr != "[::1]:8080" {
		t.Errorf("Addr = %q", s.httpServer.Addr)
	}
	if s.cfg.DefaultK != defaultK || s.cfg.QueryTimeout != defaultQueryTimeout || s.cfg.RateBurst != defaultRateBurst {
		t.Errorf("defaults not applied: %+v", s.cfg)
	}
	if cfg.Port != 0 {
		t.Error("New must not mutate the caller's config")
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s, err := New(&fakeBackend{}, &Config{Logger: logging.Discard(), MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
