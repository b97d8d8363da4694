package agent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"fastsync/internal/config"
	"fastsync/internal/dispatch"
	"fastsync/internal/endpoint"
	"fastsync/internal/logging"
	"fastsync/internal/pipeline"
	"fastsync/internal/source/photo"
)

// pushSource replays signals handed to it by the test.
type pushSource struct {
	ch chan pipeline.ChangeSignal
}

func newPushSource() *pushSource {
	return &pushSource{ch: make(chan pipeline.ChangeSignal, 32)}
}

func (s *pushSource) push(sig pipeline.ChangeSignal) { s.ch <- sig }

func (s *pushSource) Run(ctx context.Context, out chan<- pipeline.ChangeSignal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-s.ch:
			select {
			case out <- sig:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// captureServer records incoming requests.
type captureServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
}

type capturedRequest struct {
	path     string
	body     []byte
	filename string
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{path: r.URL.Path}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			if file, hdr, err := r.FormFile("data"); err == nil {
				req.filename = hdr.Filename
				buf := make([]byte, hdr.Size)
				file.Read(buf)
				file.Close()
				req.body = buf
			}
		} else {
			buf := make([]byte, 0, 1024)
			tmp := make([]byte, 1024)
			for {
				n, err := r.Body.Read(tmp)
				buf = append(buf, tmp[:n]...)
				if err != nil {
					break
				}
			}
			req.body = buf
		}
		cs.mu.Lock()
		cs.requests = append(cs.requests, req)
		cs.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *captureServer) endpoint(t *testing.T) endpoint.Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(cs.srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return endpoint.Endpoint{Host: host, Port: port}
}

func (cs *captureServer) snapshot() []capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]capturedRequest(nil), cs.requests...)
}

func (cs *captureServer) waitForRequests(t *testing.T, n int, timeout time.Duration) []capturedRequest {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := cs.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := cs.snapshot()
	t.Fatalf("expected %d requests, got %d", n, len(got))
	return nil
}

func newTestAgent(t *testing.T, cs *captureServer, quiet, window time.Duration) *Agent {
	t.Helper()
	resolver := endpoint.NewResolver(endpoint.Config{
		Fallback: cs.endpoint(t),
		Logger:   logging.Discard(),
	})
	d := dispatch.New(dispatch.Config{
		Endpoints: resolver,
		Logger:    logging.Discard(),
	})
	a, err := New(Config{
		Resolver:    resolver,
		Dispatcher:  d,
		QuietPeriod: quiet,
		DedupWindow: window,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestBurstSettlesToSingleUpload(t *testing.T) {
	cs := newCaptureServer(t)
	a := newTestAgent(t, cs, 200*time.Millisecond, 5*time.Second)

	src := newPushSource()
	a.RegisterSource(uuid.Must(uuid.NewV7()), SourceMeta{Name: "clip", Type: "clipboard"}, src)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	// Three rapid-fire signals, 100ms apart, inside one quiet window.
	for i, text := range []string{"a", "ab", "abc"} {
		if i > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		src.push(pipeline.ChangeSignal{
			Kind: pipeline.KindClipboard,
			Ref:  "clip:item",
			Data: []byte(`{"text":"` + text + `","timestamp":1}`),
			At:   time.Now(),
		})
	}

	got := cs.waitForRequests(t, 1, 3*time.Second)

	// Let any stray settle fire before asserting the count.
	time.Sleep(300 * time.Millisecond)
	got = cs.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected exactly one upload, got %d", len(got))
	}
	if got[0].path != "/clipboard" {
		t.Errorf("path = %q", got[0].path)
	}
	if string(got[0].body) != `{"text":"abc","timestamp":1}` {
		t.Errorf("body = %q, want last signal's payload", got[0].body)
	}
}

func TestDedupSuppressesRepeatedItem(t *testing.T) {
	cs := newCaptureServer(t)
	a := newTestAgent(t, cs, 50*time.Millisecond, 5*time.Second)

	src := newPushSource()
	a.RegisterSource(uuid.Must(uuid.NewV7()), SourceMeta{Name: "sms", Type: "sms"}, src)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	sig := pipeline.ChangeSignal{
		Kind: pipeline.KindSMS,
		Ref:  "sms:same",
		Data: []byte(`{"sender":"x","content":"hi","code":""}`),
		At:   time.Now(),
	}

	src.push(sig)
	cs.waitForRequests(t, 1, 3*time.Second)

	// Second settle of the same item inside the window is suppressed.
	src.push(sig)
	time.Sleep(300 * time.Millisecond)

	if got := cs.snapshot(); len(got) != 1 {
		t.Fatalf("expected one upload after duplicate, got %d", len(got))
	}

	var deduped int64
	for _, snap := range a.Stats() {
		deduped += snap.Deduped
	}
	if deduped != 1 {
		t.Errorf("expected one deduped item in stats, got %d", deduped)
	}
}

func TestPhotoSettleUploadsFileBytes(t *testing.T) {
	cs := newCaptureServer(t)
	a := newTestAgent(t, cs, 50*time.Millisecond, 5*time.Second)

	dir := t.TempDir()
	factory := photo.NewFactory()
	id := uuid.Must(uuid.NewV7())
	src, err := factory(id, map[string]string{"dir": dir, "grace": "1ms"}, logging.Discard())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	a.RegisterSource(id, SourceMeta{Name: "photos", Type: "photo"}, src)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "IMG_0042.jpg")
	if err := os.WriteFile(path, []byte("final jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := cs.waitForRequests(t, 1, 3*time.Second)
	if got[0].path != "/upload" {
		t.Errorf("path = %q", got[0].path)
	}
	if got[0].filename != "IMG_0042.jpg" {
		t.Errorf("filename = %q", got[0].filename)
	}
	if string(got[0].body) != "final jpeg bytes" {
		t.Errorf("body = %q", got[0].body)
	}
}

func TestPhotoSettleWithDefaultTimings(t *testing.T) {
	cs := newCaptureServer(t)
	// Zero quiet period and no grace param exercise the shipped defaults.
	a := newTestAgent(t, cs, 0, 5*time.Second)

	dir := t.TempDir()
	factory := photo.NewFactory()
	id := uuid.Must(uuid.NewV7())
	src, err := factory(id, map[string]string{"dir": dir}, logging.Discard())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	a.RegisterSource(id, SourceMeta{Name: "photos", Type: "photo"}, src)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "IMG_0100.jpg")
	if err := os.WriteFile(path, []byte("camera output"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// By the time the default quiet period elapses the file is already
	// older than the default write grace, so one settle must upload it.
	got := cs.waitForRequests(t, 1, 5*time.Second)
	if got[0].path != "/upload" {
		t.Errorf("path = %q", got[0].path)
	}
	if string(got[0].body) != "camera output" {
		t.Errorf("body = %q", got[0].body)
	}

	var errs int64
	for _, snap := range a.Stats() {
		errs += snap.Errors
	}
	if errs != 0 {
		t.Errorf("expected no resolution errors, got %d", errs)
	}
}

func TestPhotoRetriesUntilWriteGraceClears(t *testing.T) {
	cs := newCaptureServer(t)
	// Grace deliberately exceeds the quiet period: the first settle finds
	// the file too fresh and must re-arm rather than drop it.
	a := newTestAgent(t, cs, 100*time.Millisecond, 5*time.Second)

	dir := t.TempDir()
	factory := photo.NewFactory()
	id := uuid.Must(uuid.NewV7())
	src, err := factory(id, map[string]string{"dir": dir, "grace": "500ms"}, logging.Discard())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	a.RegisterSource(id, SourceMeta{Name: "photos", Type: "photo"}, src)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "IMG_0200.jpg")
	if err := os.WriteFile(path, []byte("slow settle"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := cs.waitForRequests(t, 1, 5*time.Second)
	if got[0].path != "/upload" {
		t.Errorf("path = %q", got[0].path)
	}
	if string(got[0].body) != "slow settle" {
		t.Errorf("body = %q", got[0].body)
	}

	var errs int64
	for _, snap := range a.Stats() {
		errs += snap.Errors
	}
	if errs != 0 {
		t.Errorf("retries should not count as errors, got %d", errs)
	}
}

func TestPhotoMissingRefDropsInsteadOfResendingLatest(t *testing.T) {
	cs := newCaptureServer(t)
	a := newTestAgent(t, cs, 50*time.Millisecond, 200*time.Millisecond)

	dir := t.TempDir()
	factory := photo.NewFactory()
	id := uuid.Must(uuid.NewV7())
	src, err := factory(id, map[string]string{"dir": dir, "grace": "1ms"}, logging.Discard())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	a.RegisterSource(id, SourceMeta{Name: "photos", Type: "photo"}, src)

	relay := newPushSource()
	a.RegisterSource(uuid.Must(uuid.NewV7()), SourceMeta{Name: "relay", Type: "photo"}, relay)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	time.Sleep(100 * time.Millisecond)

	old := filepath.Join(dir, "IMG_0001.jpg")
	if err := os.WriteFile(old, []byte("already synced"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cs.waitForRequests(t, 1, 3*time.Second)

	// Let the old photo's dedup window lapse.
	time.Sleep(300 * time.Millisecond)

	// A signal naming a vanished file is an error drop, not a resend of
	// the newest library file.
	relay.push(pipeline.ChangeSignal{
		Kind: pipeline.KindPhoto,
		Ref:  filepath.Join(dir, "vanished.jpg"),
		At:   time.Now(),
	})
	time.Sleep(300 * time.Millisecond)
	if got := cs.snapshot(); len(got) != 1 {
		t.Fatalf("missing ref re-uploaded an older file: %d requests", len(got))
	}
	var errs int64
	for _, snap := range a.Stats() {
		errs += snap.Errors
	}
	if errs != 1 {
		t.Errorf("expected one resolution error, got %d", errs)
	}

	// A ref-less signal means "something changed": resolve the newest
	// stable file.
	relay.push(pipeline.ChangeSignal{Kind: pipeline.KindPhoto, At: time.Now()})
	got := cs.waitForRequests(t, 2, 3*time.Second)
	if string(got[1].body) != "already synced" {
		t.Errorf("body = %q", got[1].body)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	cs := newCaptureServer(t)
	a := newTestAgent(t, cs, 50*time.Millisecond, time.Second)

	if a.Running() {
		t.Error("agent should not be running before Start")
	}
	if err := a.Stop(); err != ErrNotRunning {
		t.Errorf("Stop before Start = %v, want ErrNotRunning", err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.Running() {
		t.Error("agent should be running after Start")
	}
	if err := a.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Running() {
		t.Error("agent should not be running after Stop")
	}

	// Restartable.
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestBuildSources(t *testing.T) {
	cs := newCaptureServer(t)
	a := newTestAgent(t, cs, 50*time.Millisecond, time.Second)

	cfgs := []config.SourceConfig{
		{ID: uuid.Must(uuid.NewV7()), Name: "clip", Type: "clipboard", Enabled: true},
		{ID: uuid.Must(uuid.NewV7()), Name: "off", Type: "clipboard", Enabled: false},
	}
	if err := a.BuildSources(cfgs, DefaultFactories(), logging.Discard()); err != nil {
		t.Fatalf("BuildSources: %v", err)
	}
	if got := len(a.Sources()); got != 1 {
		t.Errorf("expected one enabled source registered, got %d", got)
	}

	bad := []config.SourceConfig{
		{ID: uuid.Must(uuid.NewV7()), Name: "mystery", Type: "carrier-pigeon", Enabled: true},
	}
	if err := a.BuildSources(bad, DefaultFactories(), logging.Discard()); !errors.Is(err, ErrUnknownSourceType) {
		t.Errorf("expected ErrUnknownSourceType, got %v", err)
	}
}
