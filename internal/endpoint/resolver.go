package endpoint

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"fastsync/internal/logging"
)

// ServiceDescriptor identifies a discovered service instance.
type ServiceDescriptor struct {
	Name string
	Type string
}

// Listener receives discovery events. The Resolver implements it; a
// Browser drives it. Splitting the two keeps the resolver testable
// without a real network.
type Listener interface {
	OnFound(desc ServiceDescriptor)
	OnResolved(host string, port int)
	OnLost(desc ServiceDescriptor)
	OnResolveFailed(desc ServiceDescriptor, err error)
}

// Browser browses the local network for receiver advertisements and feeds
// events to a Listener until ctx is cancelled.
type Browser interface {
	Browse(ctx context.Context, l Listener) error
}

// Config holds Resolver configuration.
type Config struct {
	// Fallback is installed as the current endpoint at construction.
	// Zero value falls back to DefaultHost:DefaultPort.
	Fallback Endpoint

	// Browser is the discovery mechanism. Nil disables discovery.
	Browser Browser

	// OnChange, if non-nil, is called after every endpoint replacement
	// with the new endpoint and the state that produced it. Called
	// outside the resolver lock; must not call back into the resolver.
	OnChange func(Endpoint, State)

	// Logger for structured logging.
	Logger *slog.Logger
}

// Resolver maintains the current endpoint. Reads are lock-free (atomic
// pointer); every writer replaces the endpoint as a whole. Last writer
// wins among concurrent discovery resolutions: there is no sequencing, so
// a slow resolution can overwrite a fresher one or a manual override. The
// receiver re-announces on the next change, which heals the stale value.
type Resolver struct {
	browser  Browser
	onChange func(Endpoint, State)
	logger   *slog.Logger

	current atomic.Pointer[Endpoint]

	mu           sync.Mutex
	state        State
	browseCancel context.CancelFunc
	browseDone   chan struct{}
}

// NewResolver creates a Resolver and immediately installs the fallback
// endpoint, so Current never blocks on discovery.
func NewResolver(cfg Config) *Resolver {
	fallback := cfg.Fallback
	if fallback.IsZero() {
		fallback = Endpoint{Host: DefaultHost, Port: DefaultPort}
	}
	r := &Resolver{
		browser:  cfg.Browser,
		onChange: cfg.OnChange,
		logger:   logging.Default(cfg.Logger).With("component", "endpoint-resolver"),
		state:    StateUnresolved,
	}
	r.apply(fallback, EventDefaultApplied)
	return r
}

// Current returns the current endpoint. ok is false only if no endpoint
// was ever applied, which cannot happen for a resolver built with
// NewResolver.
func (r *Resolver) Current() (Endpoint, bool) {
	ep := r.current.Load()
	if ep == nil {
		return Endpoint{}, false
	}
	return *ep, true
}

// State returns the current resolver state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetManual applies an explicit operator override. A non-positive port
// falls back to DefaultPort. The new endpoint is visible to the next
// dispatch; reachability is not validated here, it surfaces lazily as an
// upload failure.
func (r *Resolver) SetManual(host string, port int) Endpoint {
	if port <= 0 {
		port = DefaultPort
	}
	ep := Endpoint{Host: host, Port: port}
	r.apply(ep, EventManualUpdate)
	r.logger.Info("manual endpoint override", "endpoint", ep.URL())
	return ep
}

// StartDiscovery launches the browse session. It returns immediately; the
// session runs until ctx is cancelled or Shutdown is called. Starting with
// no Browser configured is a no-op.
func (r *Resolver) StartDiscovery(ctx context.Context) {
	if r.browser == nil {
		return
	}

	r.mu.Lock()
	if r.browseCancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.browseCancel = cancel
	done := make(chan struct{})
	r.browseDone = done
	r.state = transition(r.state, EventDiscoveryStarted)
	r.mu.Unlock()

	r.logger.Info("starting endpoint discovery")
	go func() {
		defer close(done)
		if err := r.browser.Browse(ctx, r); err != nil && ctx.Err() == nil {
			r.logger.Warn("discovery browse failed", "error", err)
		}
	}()
}

// Shutdown tears down the discovery session and waits for the browse
// goroutine to exit. Idempotent: tearing down twice, or without a prior
// StartDiscovery, is a no-op.
func (r *Resolver) Shutdown() {
	r.mu.Lock()
	cancel := r.browseCancel
	done := r.browseDone
	r.browseCancel = nil
	r.browseDone = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.logger.Info("endpoint discovery stopped")
}

// OnFound implements Listener.
func (r *Resolver) OnFound(desc ServiceDescriptor) {
	r.logger.Debug("service found", "name", desc.Name, "type", desc.Type)
}

// OnResolved implements Listener. Each successful resolution overwrites
// the current endpoint; last writer wins.
func (r *Resolver) OnResolved(host string, port int) {
	ep := Endpoint{Host: host, Port: port}
	r.apply(ep, EventServiceResolved)
	r.logger.Info("endpoint resolved via discovery", "endpoint", ep.URL())
}

// OnLost implements Listener. The endpoint is not cleared: there is no
// guarantee another device will announce, so the last-known-good address
// stays current until the next resolution or manual override.
func (r *Resolver) OnLost(desc ServiceDescriptor) {
	r.logger.Info("service lost, keeping last known endpoint", "name", desc.Name)
}

// OnResolveFailed implements Listener.
func (r *Resolver) OnResolveFailed(desc ServiceDescriptor, err error) {
	r.logger.Warn("service resolution failed", "name", desc.Name, "error", err)
}

// apply atomically replaces the endpoint and advances the state machine.
func (r *Resolver) apply(ep Endpoint, ev Event) {
	r.mu.Lock()
	r.state = transition(r.state, ev)
	state := r.state
	r.current.Store(&ep)
	r.mu.Unlock()

	if r.onChange != nil {
		r.onChange(ep, state)
	}
}
