package pipeline

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long a source must stay silent before a burst
// of signals is considered settled.
const DefaultQuietPeriod = 500 * time.Millisecond

// SettleFunc receives the surviving signal of a settled burst.
type SettleFunc func(sig ChangeSignal)

// Debouncer coalesces bursts of change signals into a single settled
// trigger per source kind. Each kind has an independent timer: a new
// signal for a kind restarts that kind's quiet-period timer and replaces
// the pending signal, so only the latest signal of a burst survives.
//
// Settle handlers for the same kind are never invoked concurrently; a
// handler still running when the next burst settles delays that burst's
// handler, it does not drop it. Handlers for different kinds may run
// concurrently.
type Debouncer struct {
	quiet time.Duration

	mu       sync.Mutex
	closed   bool
	pending  map[Kind]*burst
	handlers map[Kind]SettleFunc
	settleMu map[Kind]*sync.Mutex
}

// burst tracks the pending state of one source kind. gen increments on
// every Notify so that a timer firing concurrently with a newer signal
// recognizes itself as stale and does nothing.
type burst struct {
	timer *time.Timer
	sig   ChangeSignal
	gen   uint64
}

// NewDebouncer creates a Debouncer with the given quiet period.
// A zero or negative quiet period falls back to DefaultQuietPeriod.
func NewDebouncer(quiet time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Debouncer{
		quiet:    quiet,
		pending:  make(map[Kind]*burst),
		handlers: make(map[Kind]SettleFunc),
		settleMu: make(map[Kind]*sync.Mutex),
	}
}

// OnSettle registers the settle handler for a kind. Must be called before
// signals for that kind arrive; signals settling without a handler are
// discarded.
func (d *Debouncer) OnSettle(kind Kind, fn SettleFunc) {
	d.mu.Lock()
	d.handlers[kind] = fn
	if _, ok := d.settleMu[kind]; !ok {
		d.settleMu[kind] = &sync.Mutex{}
	}
	d.mu.Unlock()
}

// Notify records a signal and (re)starts the quiet-period timer for the
// signal's kind. A pending timer for the same kind is cancelled; only the
// latest signal survives. Notify never blocks on I/O and is safe to call
// from source adapter goroutines.
func (d *Debouncer) Notify(sig ChangeSignal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	b := d.pending[sig.Kind]
	if b == nil {
		b = &burst{}
		d.pending[sig.Kind] = b
	} else if b.timer != nil {
		b.timer.Stop()
	}
	b.sig = sig
	b.gen++

	gen := b.gen
	kind := sig.Kind
	b.timer = time.AfterFunc(d.quiet, func() { d.fire(kind, gen) })
}

// fire runs when a quiet-period timer expires. The generation check makes
// cancellation race-free: a timer that lost the Stop race against a newer
// Notify sees a bumped generation and returns without settling, leaving
// the newer signal's timer in charge.
func (d *Debouncer) fire(kind Kind, gen uint64) {
	d.mu.Lock()
	b := d.pending[kind]
	if d.closed || b == nil || b.gen != gen {
		d.mu.Unlock()
		return
	}
	sig := b.sig
	delete(d.pending, kind)
	fn := d.handlers[kind]
	mu := d.settleMu[kind]
	d.mu.Unlock()

	if fn == nil {
		return
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	fn(sig)
}

// Pending reports whether a burst is waiting to settle for the given kind.
func (d *Debouncer) Pending(kind Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[kind]
	return ok
}

// Close cancels all pending timers and discards their signals without
// invoking handlers. Further Notify calls are ignored. Close is idempotent.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for _, b := range d.pending {
		if b.timer != nil {
			b.timer.Stop()
		}
	}
	d.pending = make(map[Kind]*burst)
}
