// Package photo watches a directory of media files and signals on new or
// changed content.
package photo

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"fastsync/internal/pipeline"
)

type photoSource struct {
	id      string
	library *Library
	logger  *slog.Logger
}

// newSource creates a photo source from parsed config.
func newSource(cfg config) *photoSource {
	return &photoSource{
		id:      cfg.ID,
		library: NewLibrary(cfg.Dir, cfg.Grace),
		logger:  cfg.Logger,
	}
}

// Library exposes the payload reader for settle-time resolution.
func (s *photoSource) Library() *Library { return s.library }

// Run implements source.Source. Every create or write event under the
// library directory becomes one change signal; the debounce layer
// collapses the burst a single camera shot produces.
func (s *photoSource) Run(ctx context.Context, out chan<- pipeline.ChangeSignal) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.library.Dir()); err != nil {
		return err
	}
	s.logger.Info("watching photo library", "dir", s.library.Dir())

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			s.logger.Debug("photo change", "path", event.Name, "op", event.Op.String())
			select {
			case out <- pipeline.ChangeSignal{
				Kind: pipeline.KindPhoto,
				Ref:  event.Name,
				At:   time.Now(),
			}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("fsnotify error", "error", err)
		}
	}
}
