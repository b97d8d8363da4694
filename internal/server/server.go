// Package server provides the local HTTP control API for the agent.
//
// The API is read-mostly: probes, a status snapshot, and one mutating
// route to override the receiver endpoint. It binds to loopback by
// default and is not meant to be exposed beyond the machine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fastsync/internal/agent"
	"fastsync/internal/config"
	"fastsync/internal/endpoint"
	"fastsync/internal/logging"
	"fastsync/internal/sysmetrics"
)

// DefaultAddr is the default control API listen address.
const DefaultAddr = "127.0.0.1:8787"

// Config holds server configuration.
type Config struct {
	// Addr is the listen address. Empty uses DefaultAddr.
	Addr string

	// Logger for structured logging.
	Logger *slog.Logger
}

// Server is the agent's control API.
type Server struct {
	agent    *agent.Agent
	resolver *endpoint.Resolver
	cfgStore config.Store
	logger   *slog.Logger
	addr     string

	limiter *rateLimiter
	sys     *sysmetrics.Tracker

	mu          sync.Mutex
	listener    net.Listener
	httpServer  *http.Server
	cleanupStop context.CancelFunc
	cleanupWg   sync.WaitGroup
}

// New creates a Server. cfgStore may be nil, in which case endpoint
// overrides are applied but not persisted.
func New(a *agent.Agent, resolver *endpoint.Resolver, cfgStore config.Store, cfg Config) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		agent:    a,
		resolver: resolver,
		cfgStore: cfgStore,
		logger:   logging.Default(cfg.Logger).With("component", "server"),
		addr:     addr,
		limiter:  newRateLimiter(rate.Every(time.Second), 5),
		sys:      sysmetrics.NewTracker(),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Liveness probe, returns 200 if the process is alive.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Readiness probe, returns 200 once the pipeline is running.
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.agent.Running() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("PUT /endpoint", s.handleSetEndpoint)

	return rateLimitMiddleware(s.limiter)(mux)
}

// Start begins listening and serving. It returns once the listener is
// bound; serving continues in the background until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s.cleanupStop = cancel
	s.limiter.startCleanup(cleanupCtx, &s.cleanupWg, time.Minute, 10*time.Minute)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control api serve failed", "error", err)
		}
	}()

	s.logger.Info("control api listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	cancel := s.cleanupStop
	s.httpServer = nil
	s.listener = nil
	s.cleanupStop = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	cancel()
	s.cleanupWg.Wait()
	return srv.Shutdown(ctx)
}

// statusResponse is the GET /status body.
type statusResponse struct {
	Running  bool                  `json:"running"`
	Endpoint statusEndpoint        `json:"endpoint"`
	Sources  []agent.StatsSnapshot `json:"sources"`
	Jobs     []agent.JobInfo       `json:"jobs"`
	System   systemStatus          `json:"system"`
}

type systemStatus struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes int64   `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type statusEndpoint struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	URL   string `json:"url"`
	State string `json:"state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ep, state := s.agent.Endpoint()
	jobs := []agent.JobInfo{}
	if sched := s.agent.Scheduler(); sched != nil {
		jobs = sched.ListJobs()
	}
	resp := statusResponse{
		Running: s.agent.Running(),
		Jobs:    jobs,
		Endpoint: statusEndpoint{
			Host:  ep.Host,
			Port:  ep.Port,
			URL:   ep.URL(),
			State: state.String(),
		},
		Sources: s.agent.Stats(),
		System: systemStatus{
			CPUPercent:  s.sys.CPUPercent(),
			MemoryBytes: sysmetrics.MemoryInuse(),
			Goroutines:  sysmetrics.Goroutines(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

// endpointRequest is the PUT /endpoint body. Port zero defaults to the
// receiver's standard port.
type endpointRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (s *Server) handleSetEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if net.ParseIP(req.IP) == nil {
		writeError(w, http.StatusBadRequest, "ip must be a valid IP address")
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "port out of range")
		return
	}

	ep := s.resolver.SetManual(req.IP, req.Port)

	if s.cfgStore != nil {
		ov := config.EndpointOverride{Host: ep.Host, Port: ep.Port}
		if err := config.SaveEndpointOverride(r.Context(), s.cfgStore, ov); err != nil {
			s.logger.Warn("failed to persist endpoint override", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, statusEndpoint{
		Host:  ep.Host,
		Port:  ep.Port,
		URL:   ep.URL(),
		State: endpoint.StateManualOverride.String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
