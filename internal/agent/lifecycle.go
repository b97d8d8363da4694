package agent

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"fastsync/internal/dispatch"
	"fastsync/internal/pipeline"
	"fastsync/internal/source/photo"
)

// Start launches the dispatcher, endpoint discovery, all sources, and the
// signal loop. Each source runs in its own goroutine, emitting signals to
// a shared channel. The signal loop feeds the debouncer; settle callbacks
// resolve payloads, deduplicate, and dispatch.
// Start returns immediately; use Stop to shut down.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}

	sched, err := NewScheduler(a.baseLogger.With("component", "scheduler"))
	if err != nil {
		return err
	}
	a.scheduler = sched

	ctx, cancel := context.WithCancel(ctx)
	a.cancelMain = cancel
	a.running = true

	a.signalCh = make(chan pipeline.ChangeSignal, a.signalBuffer)
	a.debounce = pipeline.NewDebouncer(a.quiet)
	a.dedup = pipeline.NewDedupCache(a.dedupWindow, pipeline.DefaultSweepThreshold)

	a.debounce.OnSettle(pipeline.KindPhoto, a.settlePhoto)
	a.debounce.OnSettle(pipeline.KindSMS, a.settleSMS)
	a.debounce.OnSettle(pipeline.KindClipboard, a.settleClipboard)

	a.logger.Info("starting agent", "sources", len(a.sources), "quiet", a.quiet, "dedup_window", a.dedupWindow)

	a.dispatcher.Start(ctx, 0)
	a.resolver.StartDiscovery(ctx)

	if a.statsInterval > 0 {
		if err := a.scheduler.AddIntervalJob("stats-report", a.statsInterval, a.reportStats); err != nil {
			a.logger.Warn("failed to schedule stats report", "error", err)
		}
	}
	a.scheduler.Start()

	// Launch source goroutines with per-source contexts.
	for id, src := range a.sources {
		srcCtx, srcCancel := context.WithCancel(ctx)
		a.sourceCancels[id] = srcCancel
		meta := a.sourceMeta[id]
		a.logger.Info("starting source", "id", id, "name", meta.Name, "type", meta.Type)
		a.sourceWg.Go(func() {
			if err := src.Run(srcCtx, a.signalCh); err != nil && srcCtx.Err() == nil {
				a.logger.Error("source failed", "id", id, "name", meta.Name, "error", err)
			}
		})
	}

	a.loopWg.Go(func() { a.signalLoop() })

	return nil
}

// Stop shuts the pipeline down in order:
//  1. Cancel source contexts, wait for sources, close the signal channel.
//  2. Wait for the signal loop to drain remaining signals.
//  3. Close the debouncer, discarding unexpired windows.
//  4. Stop the dispatcher (in-flight uploads finish), discovery, and
//     scheduler.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrNotRunning
	}
	signalCh := a.signalCh
	debounce := a.debounce
	sched := a.scheduler
	for _, srcCancel := range a.sourceCancels {
		srcCancel()
	}
	a.mu.Unlock()

	a.sourceWg.Wait()
	close(signalCh)

	a.loopWg.Wait()
	debounce.Close()

	a.dispatcher.Stop()
	a.resolver.Shutdown()
	if err := sched.Stop(); err != nil {
		a.logger.Warn("scheduler shutdown failed", "error", err)
	}

	a.mu.Lock()
	a.cancelMain()
	a.running = false
	a.signalCh = nil
	a.debounce = nil
	a.dedup = nil
	a.scheduler = nil
	a.sourceCancels = make(map[uuid.UUID]func())
	a.mu.Unlock()

	a.logger.Info("agent stopped")
	return nil
}

// signalLoop drains the shared channel into the debouncer. It exits when
// the channel is closed during Stop.
func (a *Agent) signalLoop() {
	for sig := range a.signalCh {
		if st := a.statsForKind(sig.Kind); st != nil {
			st.Signals.Add(1)
		}
		a.debounce.Notify(sig)
	}
}

// settlePhoto runs when a burst of photo signals goes quiet. The last
// signal's ref names the file; bytes are read now so a burst of partial
// writes resolves to the final content. A ref-less signal means
// "something changed" and resolves to the newest stable file.
func (a *Agent) settlePhoto(sig pipeline.ChangeSignal) {
	st := a.statsForKind(pipeline.KindPhoto)
	if st != nil {
		st.Settled.Add(1)
	}

	lib := a.photoLibrary()
	if lib == nil {
		a.logger.Warn("photo settled with no library registered", "ref", sig.Ref)
		return
	}

	var data []byte
	if sig.Ref == "" {
		path, latest, err := lib.ResolveLatest()
		if err != nil {
			a.logger.Warn("photo resolution failed", "error", err)
			if st != nil {
				st.Errors.Add(1)
			}
			return
		}
		if path == "" {
			return
		}
		sig.Ref = path
		data = latest
	} else {
		var err error
		data, err = lib.ResolveByRef(sig.Ref)
		if errors.Is(err, photo.ErrNotReady) {
			// Still inside the write grace; run the signal through the
			// debouncer again so it retries after another quiet period.
			a.logger.Debug("photo not ready, rescheduling", "ref", sig.Ref)
			a.renotify(sig)
			return
		}
		if err != nil {
			a.logger.Warn("photo resolution failed", "ref", sig.Ref, "error", err)
			if st != nil {
				st.Errors.Add(1)
			}
			return
		}
	}

	dedup := a.dedupCache()
	if dedup == nil {
		return
	}
	if !dedup.TryAdmit(photo.ItemID(sig.Ref), time.Now()) {
		a.logger.Debug("photo suppressed by dedup", "ref", sig.Ref)
		if st != nil {
			st.Deduped.Add(1)
		}
		return
	}

	a.dispatcher.Send(dispatch.Job{
		Route:    "/upload",
		Kind:     dispatch.ContentRaw,
		Payload:  data,
		Filename: filepath.Base(sig.Ref),
	})
	if st != nil {
		st.Dispatched.Add(1)
	}
}

// settleSMS runs when a burst of sms signals goes quiet. The payload was
// captured at signal time; only dedup and dispatch remain.
func (a *Agent) settleSMS(sig pipeline.ChangeSignal) {
	a.settleCaptured(sig, pipeline.KindSMS, "/sms")
}

// settleClipboard runs when a burst of clipboard signals goes quiet.
func (a *Agent) settleClipboard(sig pipeline.ChangeSignal) {
	a.settleCaptured(sig, pipeline.KindClipboard, "/clipboard")
}

func (a *Agent) settleCaptured(sig pipeline.ChangeSignal, kind pipeline.Kind, route string) {
	st := a.statsForKind(kind)
	if st != nil {
		st.Settled.Add(1)
	}

	if len(sig.Data) == 0 {
		a.logger.Warn("settled signal carries no payload", "kind", kind, "ref", sig.Ref)
		if st != nil {
			st.Errors.Add(1)
		}
		return
	}

	dedup := a.dedupCache()
	if dedup == nil {
		return
	}
	if !dedup.TryAdmit(sig.Ref, time.Now()) {
		a.logger.Debug("item suppressed by dedup", "kind", kind, "ref", sig.Ref)
		if st != nil {
			st.Deduped.Add(1)
		}
		return
	}

	a.dispatcher.Send(dispatch.Job{
		Route:   route,
		Kind:    dispatch.ContentJSON,
		Payload: sig.Data,
	})
	if st != nil {
		st.Dispatched.Add(1)
	}
}

// renotify puts a signal back through the debouncer. Settle handlers run
// on timer goroutines and may race with Stop, so the debouncer is read
// under the lock; notifying a closed debouncer is a no-op.
func (a *Agent) renotify(sig pipeline.ChangeSignal) {
	a.mu.RLock()
	deb := a.debounce
	a.mu.RUnlock()
	if deb != nil {
		deb.Notify(sig)
	}
}

// dedupCache reads the dedup cache under the lock; nil after Stop.
func (a *Agent) dedupCache() *pipeline.DedupCache {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dedup
}

// reportStats logs a periodic one-line summary per source.
func (a *Agent) reportStats() {
	for _, snap := range a.Stats() {
		a.logger.Info("source stats",
			"name", snap.Name,
			"type", snap.Type,
			"signals", snap.Signals,
			"settled", snap.Settled,
			"deduped", snap.Deduped,
			"dispatched", snap.Dispatched,
			"errors", snap.Errors)
	}
}
