// Package clipboard polls the system clipboard and signals when its text
// content changes.
package clipboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"fastsync/internal/pipeline"
)

// payload is the wire shape the receiver expects on its clipboard route.
// Timestamp is epoch milliseconds.
type payload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// EncodePayload marshals clipboard text with its capture time.
func EncodePayload(text string, at time.Time) ([]byte, error) {
	return json.Marshal(payload{Text: text, Timestamp: at.UnixMilli()})
}

// ItemID returns a stable identity for clipboard content. Copying the
// same text twice in a row is one item.
func ItemID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "clip:" + hex.EncodeToString(sum[:16])
}

type clipboardSource struct {
	id       string
	interval time.Duration
	read     func() (string, error)
	logger   *slog.Logger
}

// newSource creates a clipboard source from parsed config.
func newSource(cfg config) *clipboardSource {
	return &clipboardSource{
		id:       cfg.ID,
		interval: cfg.Interval,
		read:     cfg.Read,
		logger:   cfg.Logger,
	}
}

// Run implements source.Source. There is no portable change notification
// for clipboards, so this polls: each tick reads the clipboard and emits
// a signal when the content differs from the last observation. The first
// read only primes the baseline; pre-existing content is not synced.
func (s *clipboardSource) Run(ctx context.Context, out chan<- pipeline.ChangeSignal) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	last, err := s.read()
	if err != nil {
		s.logger.Warn("initial clipboard read failed", "error", err)
		last = ""
	}
	s.logger.Info("polling clipboard", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		text, err := s.read()
		if err != nil {
			s.logger.Warn("clipboard read failed", "error", err)
			continue
		}
		if text == last || text == "" {
			continue
		}
		last = text

		now := time.Now()
		data, err := EncodePayload(text, now)
		if err != nil {
			s.logger.Warn("encode clipboard payload failed", "error", err)
			continue
		}
		s.logger.Debug("clipboard changed", "bytes", len(text))
		select {
		case out <- pipeline.ChangeSignal{
			Kind: pipeline.KindClipboard,
			Ref:  ItemID(text),
			Data: data,
			At:   now,
		}:
		case <-ctx.Done():
			return nil
		}
	}
}
