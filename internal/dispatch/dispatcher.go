// Package dispatch delivers payloads to the receiving peer over HTTP.
//
// Sends are asynchronous: Send enqueues onto a bounded queue and returns
// immediately, so a slow or unreachable receiver never blocks the event
// sources. Outcomes are reported through an Observer instead of return
// values.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fastsync/internal/endpoint"
	"fastsync/internal/logging"
)

const (
	// MaxPayloadBytes matches the receiver's request body limit.
	MaxPayloadBytes = 50 << 20

	// DefaultQueueSize bounds the number of pending uploads.
	DefaultQueueSize = 64

	// DefaultWorkers is the number of concurrent upload workers.
	DefaultWorkers = 2

	// DefaultTimeout bounds a single upload attempt.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrQueueFull is the drop reason when the queue is saturated.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrNoEndpoint is the drop reason when no receiver address is known.
	ErrNoEndpoint = errors.New("no endpoint available")

	// ErrPayloadTooLarge is the drop reason for payloads over the
	// receiver's body limit.
	ErrPayloadTooLarge = errors.New("payload exceeds receiver limit")

	// ErrClosed is the drop reason for sends after Stop.
	ErrClosed = errors.New("dispatcher closed")
)

// ContentKind selects how a payload is encoded on the wire.
type ContentKind int

const (
	// ContentRaw uploads the payload as a multipart form file under the
	// field name the receiver expects.
	ContentRaw ContentKind = iota

	// ContentJSON posts the payload verbatim as a JSON body.
	ContentJSON
)

// Job is one pending upload.
type Job struct {
	// Route is the receiver path, e.g. "/upload", "/sms", "/clipboard".
	Route string

	// Kind selects the wire encoding.
	Kind ContentKind

	// Payload is the body. For ContentRaw it is the file content; for
	// ContentJSON it is an already-marshalled JSON document.
	Payload []byte

	// Filename names the multipart part for ContentRaw jobs.
	Filename string
}

// EndpointSource supplies the current receiver address at send time.
// *endpoint.Resolver satisfies it.
type EndpointSource interface {
	Current() (endpoint.Endpoint, bool)
}

// Config holds Dispatcher configuration.
type Config struct {
	// Endpoints supplies the receiver address. Required.
	Endpoints EndpointSource

	// Observer receives outcomes. Nil falls back to a LogObserver.
	Observer Observer

	// Client is the HTTP client used for uploads. Nil gets a client with
	// DefaultTimeout.
	Client *http.Client

	// QueueSize bounds pending uploads. Non-positive gets DefaultQueueSize.
	QueueSize int

	// Workers is the upload concurrency. Non-positive gets DefaultWorkers.
	Workers int

	// Logger for structured logging.
	Logger *slog.Logger
}

// Dispatcher uploads payloads asynchronously through a worker pool.
type Dispatcher struct {
	endpoints EndpointSource
	observer  Observer
	client    *http.Client
	logger    *slog.Logger

	queue chan Job

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	workers *errgroup.Group
}

// New creates a Dispatcher. Call Start before sending.
func New(cfg Config) *Dispatcher {
	logger := logging.Default(cfg.Logger).With("component", "dispatch")
	observer := cfg.Observer
	if observer == nil {
		observer = NewLogObserver(logger)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		endpoints: cfg.Endpoints,
		observer:  observer,
		client:    client,
		logger:    logger,
		queue:     make(chan Job, size),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	d.closed = false

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	d.workers = g
	for range workers {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	d.logger.Info("dispatcher started", "workers", workers, "queue", cap(d.queue))
}

// Send enqueues a job and returns immediately. It never blocks: when the
// queue is full, the payload is oversized, or the dispatcher is stopped,
// the job is dropped and the observer notified.
func (d *Dispatcher) Send(job Job) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		d.observer.Dropped(job, ErrClosed)
		return
	}
	if len(job.Payload) > MaxPayloadBytes {
		d.observer.Dropped(job, ErrPayloadTooLarge)
		return
	}

	select {
	case d.queue <- job:
		d.observer.Enqueued(job)
	default:
		d.observer.Dropped(job, ErrQueueFull)
	}
}

// Stop drains nothing: in-flight uploads finish, queued jobs that no
// worker picked up before cancellation are dropped on the floor when the
// process exits. Idempotent. A stopped dispatcher rejects sends until the
// next Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	cancel := d.cancel
	workers := d.workers
	d.cancel = nil
	d.workers = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = workers.Wait()
	}
	d.logger.Info("dispatcher stopped")
}

// Queued returns the number of jobs waiting for a worker.
func (d *Dispatcher) Queued() int {
	return len(d.queue)
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.deliver(ctx, job)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	if d.endpoints == nil {
		d.observer.Dropped(job, ErrNoEndpoint)
		return
	}
	ep, ok := d.endpoints.Current()
	if !ok {
		d.observer.Dropped(job, ErrNoEndpoint)
		return
	}

	url := ep.URLFor(job.Route)
	req, err := buildRequest(ctx, url, job)
	if err != nil {
		d.observer.Failed(job, err)
		return
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.observer.Failed(job, err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.observer.Failed(job, fmt.Errorf("receiver returned %s", resp.Status))
		return
	}
	d.observer.Sent(job)
}

// uploadFieldName is the multipart field the receiver reads the file from.
const uploadFieldName = "data"

func buildRequest(ctx context.Context, url string, job Job) (*http.Request, error) {
	switch job.Kind {
	case ContentJSON:
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(job.Payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil

	case ContentRaw:
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		part, err := w.CreatePart(fileHeader(job.Filename))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(job.Payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil

	default:
		return nil, fmt.Errorf("unknown content kind %d", job.Kind)
	}
}

// fileHeader builds the multipart part header. CreateFormFile hardcodes
// application/octet-stream but mangles quotes in filenames, so the header
// is built by hand.
func fileHeader(filename string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadFieldName, filename))
	h.Set("Content-Type", "application/octet-stream")
	return h
}
