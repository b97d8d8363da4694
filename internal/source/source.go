// Package source defines the change source contract.
//
// A source watches one channel of user activity (photo library, SMS feed,
// clipboard) and emits a change signal whenever something new appears.
// Sources never talk to the network receiver themselves; signals flow into
// the debounce pipeline and payloads are read at settle time.
package source

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"fastsync/internal/pipeline"
)

// Source is a long-running change watcher.
type Source interface {
	// Run watches for changes and writes signals to out until ctx is
	// cancelled. Run must not close out; the agent owns the channel.
	// A nil return after cancellation is a clean stop; any other error
	// is terminal for this source only and never tears down the agent.
	Run(ctx context.Context, out chan<- pipeline.ChangeSignal) error
}

// Factory creates a Source from opaque string params. Parsing and
// validation of params is the factory's responsibility.
type Factory func(id uuid.UUID, params map[string]string, logger *slog.Logger) (Source, error)
