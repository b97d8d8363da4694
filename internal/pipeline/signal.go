// Package pipeline provides the synchronization primitives of the sync
// pipeline: change signals emitted by sources, the per-source debouncer
// that settles bursts, and the time-windowed dedup cache that suppresses
// duplicate delivery.
package pipeline

import "time"

// Kind identifies a change-source stream. Streams are independent: signals
// of different kinds never coalesce with each other and carry no ordering
// guarantee across kinds.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindSMS       Kind = "sms"
	KindClipboard Kind = "clipboard"
)

// ChangeSignal is a raw change notification from a source adapter.
// It is ephemeral: produced on change, consumed by the Debouncer, and
// discarded after the burst settles.
type ChangeSignal struct {
	// Kind is the source stream this signal belongs to.
	Kind Kind

	// Ref optionally identifies the changed item (e.g. the path of a new
	// photo). Empty means "something changed, resolve the latest item".
	Ref string

	// Data optionally carries the payload for push-style sources (SMS,
	// clipboard) where the adapter already holds the content.
	Data []byte

	// At is when the source observed the change.
	At time.Time
}
