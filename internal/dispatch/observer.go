package dispatch

import (
	"log/slog"

	"fastsync/internal/logging"
)

// Observer receives dispatch outcomes. Sources fire and forget; the
// observer is the only place failures surface, so the agent wires its
// stats counters and logging through one.
type Observer interface {
	// Enqueued is called when a job is accepted into the queue.
	Enqueued(job Job)

	// Dropped is called when a job is discarded before any network
	// attempt: queue full, oversized payload, or no endpoint available.
	Dropped(job Job, reason error)

	// Sent is called after the receiver acknowledged the upload.
	Sent(job Job)

	// Failed is called when the upload attempt failed. The job is not
	// retried.
	Failed(job Job, err error)
}

// LogObserver logs every outcome. It is the default when no observer is
// configured.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates an observer that logs outcomes.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logging.Default(logger).With("component", "dispatch")}
}

func (o *LogObserver) Enqueued(job Job) {
	o.logger.Debug("upload enqueued", "route", job.Route, "bytes", len(job.Payload))
}

func (o *LogObserver) Dropped(job Job, reason error) {
	o.logger.Warn("upload dropped", "route", job.Route, "reason", reason)
}

func (o *LogObserver) Sent(job Job) {
	o.logger.Info("upload sent", "route", job.Route, "bytes", len(job.Payload))
}

func (o *LogObserver) Failed(job Job, err error) {
	o.logger.Warn("upload failed", "route", job.Route, "error", err)
}
