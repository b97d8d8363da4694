package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"fastsync/internal/agent"
	"fastsync/internal/config"
	"fastsync/internal/config/memory"
	"fastsync/internal/dispatch"
	"fastsync/internal/endpoint"
	"fastsync/internal/logging"
)

func newTestServer(t *testing.T) (*Server, *endpoint.Resolver, *memory.Store) {
	t.Helper()

	resolver := endpoint.NewResolver(endpoint.Config{Logger: logging.Discard()})
	d := dispatch.New(dispatch.Config{Endpoints: resolver, Logger: logging.Discard()})
	a, err := agent.New(agent.Config{
		Resolver:   resolver,
		Dispatcher: d,
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	store := memory.NewStore()
	s := New(a, resolver, store, Config{Logger: logging.Discard()})
	return s, resolver, store
}

func TestHealthAndReadiness(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	// Agent not started, so not ready.
	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503 before start", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	s, resolver, _ := newTestServer(t)
	resolver.SetManual("10.0.0.5", 4000)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Running  bool `json:"running"`
		Endpoint struct {
			Host  string `json:"host"`
			Port  int    `json:"port"`
			URL   string `json:"url"`
			State string `json:"state"`
		} `json:"endpoint"`
		Jobs []struct {
			Name string `json:"name"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Running {
		t.Error("running = true before start")
	}
	// No scheduler before Start; the jobs list is present but empty.
	if len(body.Jobs) != 0 {
		t.Errorf("jobs = %+v before start", body.Jobs)
	}
	if body.Endpoint.URL != "http://10.0.0.5:4000/upload" {
		t.Errorf("url = %q", body.Endpoint.URL)
	}
	if body.Endpoint.State != "manual" {
		t.Errorf("state = %q", body.Endpoint.State)
	}
}

func TestSetEndpoint(t *testing.T) {
	s, resolver, store := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/endpoint",
		bytes.NewBufferString(`{"ip":"192.168.1.50","port":0}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put endpoint = %d", resp.StatusCode)
	}

	// Port zero falls back to the receiver default.
	ep, _ := resolver.Current()
	if ep.Host != "192.168.1.50" || ep.Port != endpoint.DefaultPort {
		t.Errorf("resolver endpoint = %+v", ep)
	}

	// Override is persisted.
	ov, err := config.LoadEndpointOverride(context.Background(), store)
	if err != nil {
		t.Fatalf("LoadEndpointOverride: %v", err)
	}
	if ov == nil || ov.Host != "192.168.1.50" || ov.Port != endpoint.DefaultPort {
		t.Errorf("persisted override = %+v", ov)
	}
}

func TestSetEndpointValidation(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	cases := []string{
		`not json`,
		`{"ip":"not-an-ip","port":80}`,
		`{"ip":"10.0.0.1","port":70000}`,
	}
	for _, body := range cases {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/endpoint", strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	s, _, _ := newTestServer(t)
	// Tight limit so the test trips it quickly.
	s.limiter = newRateLimiter(rate.Every(time.Hour), 2)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var limited bool
	for range 5 {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/endpoint",
			strings.NewReader(`{"ip":"10.0.0.1","port":3000}`))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected a 429 after burst exhaustion")
	}

	// Reads are never limited.
	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d during rate limiting", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.addr = "127.0.0.1:0"

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("healthz over real listener: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second stop is a no-op.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
