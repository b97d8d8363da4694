// Package logging provides utilities for structured logging across the agent.
//
// Design principles:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - slog.With() is used to attach default attributes
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination) belongs only in main().
// Components must never call slog.SetDefault or access global loggers.
//
// Logging is intentionally sparse:
//   - No logging on the signal emission path (debounce notify, dedup checks)
//   - Lifecycle boundaries and delivery outcomes are the intended log points
package logging

import (
	"context"
	"log/slog"
	"sync"
)

// discardHandler is a handler that discards all log records.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Discard returns a logger that discards all output.
// Use this as a default when no logger is provided.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// Default returns the provided logger if non-nil, otherwise returns a discard logger.
// This is the standard pattern for optional logger parameters:
//
//	func NewComponent(logger *slog.Logger) *Component {
//	    logger = logging.Default(logger)
//	    return &Component{logger: logger.With("component", "name")}
//	}
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// ComponentFilterHandler filters records by per-component log levels.
// Components are identified by the "component" attribute that scoped
// loggers attach at construction. Records without a component attribute
// are filtered against the default level.
//
// Level overrides can be changed at runtime; reads and writes are safe
// for concurrent use.
type ComponentFilterHandler struct {
	inner        slog.Handler
	defaultLevel slog.Level
	preAttrs     []slog.Attr

	mu     *sync.RWMutex
	levels map[string]slog.Level
}

// NewComponentFilterHandler wraps inner with per-component level filtering.
// Records at or above defaultLevel pass unless a component override says
// otherwise.
func NewComponentFilterHandler(inner slog.Handler, defaultLevel slog.Level) *ComponentFilterHandler {
	var mu sync.RWMutex
	return &ComponentFilterHandler{
		inner:        inner,
		defaultLevel: defaultLevel,
		mu:           &mu,
		levels:       make(map[string]slog.Level),
	}
}

// SetLevel sets the minimum level for a component.
func (h *ComponentFilterHandler) SetLevel(component string, level slog.Level) {
	h.mu.Lock()
	h.levels[component] = level
	h.mu.Unlock()
}

// ClearLevel removes a component override, restoring the default level.
func (h *ComponentFilterHandler) ClearLevel(component string) {
	h.mu.Lock()
	delete(h.levels, component)
	h.mu.Unlock()
}

// Level returns the effective minimum level for a component.
func (h *ComponentFilterHandler) Level(component string) slog.Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if level, ok := h.levels[component]; ok {
		return level
	}
	return h.defaultLevel
}

// DefaultLevel returns the configured default level.
func (h *ComponentFilterHandler) DefaultLevel() slog.Level {
	return h.defaultLevel
}

// Enabled reports whether any record at this level could pass. The actual
// per-component decision happens in Handle, where attributes are visible.
func (h *ComponentFilterHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle forwards the record to the inner handler if it passes the
// component's level filter.
func (h *ComponentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	component := ""
	for _, attr := range h.preAttrs {
		if attr.Key == "component" {
			component = attr.Value.String()
		}
	}
	if component == "" {
		r.Attrs(func(attr slog.Attr) bool {
			if attr.Key == "component" {
				component = attr.Value.String()
				return false
			}
			return true
		})
	}
	if r.Level < h.Level(component) {
		return nil
	}
	if h.inner == nil {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a handler that remembers pre-set attributes so that
// loggers created with With("component", ...) keep filtering correctly.
func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.preAttrs)+len(attrs))
	copy(newAttrs, h.preAttrs)
	copy(newAttrs[len(h.preAttrs):], attrs)
	var inner slog.Handler
	if h.inner != nil {
		inner = h.inner.WithAttrs(attrs)
	}
	return &ComponentFilterHandler{
		inner:        inner,
		defaultLevel: h.defaultLevel,
		preAttrs:     newAttrs,
		mu:           h.mu,
		levels:       h.levels,
	}
}

// WithGroup returns a handler that opens a group on the inner handler.
func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	var inner slog.Handler
	if h.inner != nil {
		inner = h.inner.WithGroup(name)
	}
	return &ComponentFilterHandler{
		inner:        inner,
		defaultLevel: h.defaultLevel,
		preAttrs:     h.preAttrs,
		mu:           h.mu,
		levels:       h.levels,
	}
}
