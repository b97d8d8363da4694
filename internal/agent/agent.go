// Package agent coordinates the sync pipeline without owning business
// logic. It fans change signals from sources into the debouncer, resolves
// payloads at settle time, deduplicates items, and hands uploads to the
// dispatcher.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fastsync/internal/dispatch"
	"fastsync/internal/endpoint"
	"fastsync/internal/logging"
	"fastsync/internal/pipeline"
	"fastsync/internal/source"
	"fastsync/internal/source/photo"
)

var (
	// ErrAlreadyRunning is returned by Start when the agent is running.
	ErrAlreadyRunning = errors.New("agent already running")
	// ErrNotRunning is returned by Stop when the agent is not running.
	ErrNotRunning = errors.New("agent not running")
	// ErrUnknownSourceType is returned when no factory matches a config.
	ErrUnknownSourceType = errors.New("unknown source type")
)

// SourceMeta carries display information about a registered source.
type SourceMeta struct {
	Name string
	Type string
}

// SourceStats tracks per-source pipeline counters. All fields are safe
// for concurrent access.
type SourceStats struct {
	Signals    atomic.Int64 // raw change signals received
	Settled    atomic.Int64 // debounce windows that fired
	Deduped    atomic.Int64 // items rejected by the dedup window
	Dispatched atomic.Int64 // uploads handed to the dispatcher
	Errors     atomic.Int64 // settle-time resolution or upload failures
}

// StatsSnapshot is a point-in-time copy of a source's counters.
type StatsSnapshot struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Signals    int64     `json:"signals"`
	Settled    int64     `json:"settled"`
	Deduped    int64     `json:"deduped"`
	Dispatched int64     `json:"dispatched"`
	Errors     int64     `json:"errors"`
}

// Config holds Agent configuration.
type Config struct {
	// Resolver supplies the receiver endpoint. Required.
	Resolver *endpoint.Resolver

	// Dispatcher delivers payloads. Required. The agent owns its
	// lifecycle: Start starts it, Stop stops it.
	Dispatcher *dispatch.Dispatcher

	// QuietPeriod overrides the debounce quiet period. Zero uses
	// pipeline.DefaultQuietPeriod.
	QuietPeriod time.Duration

	// DedupWindow overrides the dedup window. Zero uses
	// pipeline.DefaultDedupWindow.
	DedupWindow time.Duration

	// SignalBuffer sizes the shared signal channel. Zero gets a default.
	SignalBuffer int

	// StatsInterval is how often the stats report job runs. Zero
	// disables the job.
	StatsInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// Agent wires sources, debouncer, dedup, resolver, and dispatcher into
// one lifecycle.
//
// Concurrency model:
//   - RegisterSource must be called before Start.
//   - Each source runs in its own goroutine with its own cancel, all
//     emitting into a shared signal channel.
//   - One signal loop drains the channel into the debouncer; settle
//     callbacks fire on timer goroutines, serialized per kind.
type Agent struct {
	logger       *slog.Logger
	baseLogger   *slog.Logger
	resolver     *endpoint.Resolver
	dispatcher   *dispatch.Dispatcher
	quiet        time.Duration
	dedupWindow  time.Duration
	signalBuffer int

	scheduler     *Scheduler // created in Start, nil when stopped
	statsInterval time.Duration

	mu            sync.RWMutex
	running       bool
	cancelMain    context.CancelFunc
	sources       map[uuid.UUID]source.Source
	sourceMeta    map[uuid.UUID]SourceMeta
	sourceCancels map[uuid.UUID]func()
	stats         map[uuid.UUID]*SourceStats
	kindOwner     map[pipeline.Kind]uuid.UUID
	photoLibs     map[uuid.UUID]*photo.Library

	signalCh chan pipeline.ChangeSignal
	debounce *pipeline.Debouncer
	dedup    *pipeline.DedupCache

	sourceWg sync.WaitGroup
	loopWg   sync.WaitGroup
}

// New creates an Agent. Sources are registered separately before Start.
func New(cfg Config) (*Agent, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("agent: resolver is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("agent: dispatcher is required")
	}
	logger := logging.Default(cfg.Logger)

	quiet := cfg.QuietPeriod
	if quiet <= 0 {
		quiet = pipeline.DefaultQuietPeriod
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = pipeline.DefaultDedupWindow
	}
	buffer := cfg.SignalBuffer
	if buffer <= 0 {
		buffer = 64
	}

	return &Agent{
		logger:        logger.With("component", "agent"),
		baseLogger:    logger,
		resolver:      cfg.Resolver,
		dispatcher:    cfg.Dispatcher,
		quiet:         quiet,
		dedupWindow:   window,
		signalBuffer:  buffer,
		statsInterval: cfg.StatsInterval,
		sources:       make(map[uuid.UUID]source.Source),
		sourceMeta:    make(map[uuid.UUID]SourceMeta),
		sourceCancels: make(map[uuid.UUID]func()),
		stats:         make(map[uuid.UUID]*SourceStats),
		kindOwner:     make(map[pipeline.Kind]uuid.UUID),
		photoLibs:     make(map[uuid.UUID]*photo.Library),
	}, nil
}

// RegisterSource adds a source to the registry. Must be called before
// Start.
func (a *Agent) RegisterSource(id uuid.UUID, meta SourceMeta, src source.Source) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sources[id] = src
	a.sourceMeta[id] = meta
	a.stats[id] = &SourceStats{}
	a.kindOwner[kindForType(meta.Type)] = id

	if lib, ok := src.(interface{ Library() *photo.Library }); ok {
		a.photoLibs[id] = lib.Library()
	}
}

// UnregisterSource removes a source. Must be called before Start or
// after Stop.
func (a *Agent) UnregisterSource(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.sources, id)
	delete(a.sourceMeta, id)
	delete(a.stats, id)
	delete(a.photoLibs, id)
	for kind, owner := range a.kindOwner {
		if owner == id {
			delete(a.kindOwner, kind)
		}
	}
}

// Sources returns the IDs of all registered sources.
func (a *Agent) Sources() []uuid.UUID {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(a.sources))
	for id := range a.sources {
		ids = append(ids, id)
	}
	return ids
}

// Running reports whether the agent is running.
func (a *Agent) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Endpoint returns the current receiver endpoint and resolver state.
func (a *Agent) Endpoint() (endpoint.Endpoint, endpoint.State) {
	ep, _ := a.resolver.Current()
	return ep, a.resolver.State()
}

// Scheduler exposes the shared job scheduler. Nil unless the agent is
// running.
func (a *Agent) Scheduler() *Scheduler {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scheduler
}

// Stats returns a snapshot of all per-source counters.
func (a *Agent) Stats() []StatsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snaps := make([]StatsSnapshot, 0, len(a.stats))
	for id, st := range a.stats {
		meta := a.sourceMeta[id]
		snaps = append(snaps, StatsSnapshot{
			ID:         id,
			Name:       meta.Name,
			Type:       meta.Type,
			Signals:    st.Signals.Load(),
			Settled:    st.Settled.Load(),
			Deduped:    st.Deduped.Load(),
			Dispatched: st.Dispatched.Load(),
			Errors:     st.Errors.Load(),
		})
	}
	return snaps
}

// statsForKind finds the counters of the source that owns a signal kind.
func (a *Agent) statsForKind(kind pipeline.Kind) *SourceStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	id, ok := a.kindOwner[kind]
	if !ok {
		return nil
	}
	return a.stats[id]
}

// photoLibrary returns any registered photo library.
func (a *Agent) photoLibrary() *photo.Library {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, lib := range a.photoLibs {
		return lib
	}
	return nil
}

func kindForType(sourceType string) pipeline.Kind {
	switch sourceType {
	case "sms":
		return pipeline.KindSMS
	case "clipboard":
		return pipeline.KindClipboard
	default:
		return pipeline.KindPhoto
	}
}
