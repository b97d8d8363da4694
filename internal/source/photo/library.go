package photo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// DefaultWriteGrace is how recently a file may have been modified before
// it is treated as still being written. It must stay below the debounce
// quiet period: every write restarts the quiet timer, so a settled file
// has already been untouched for at least the quiet period.
const DefaultWriteGrace = 200 * time.Millisecond

// ErrNotReady marks a transient resolution failure: the file exists but
// its content has not stabilized yet. Callers may retry.
var ErrNotReady = errors.New("file not ready")

// mediaExts are the file extensions treated as syncable media.
var mediaExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".heic": true,
	".heif": true,
	".webp": true,
	".dng":  true,
	".mp4":  true,
	".mov":  true,
}

// pendingSuffixes mark files that a camera app or downloader is still
// writing.
var pendingSuffixes = []string{".tmp", ".part", ".partial", ".crdownload"}

// Library reads media files from a watched directory. Signals carry only
// a path reference; the payload is read here at settle time so a burst of
// writes resolves to the final bytes.
type Library struct {
	dir   string
	grace time.Duration
}

// NewLibrary creates a Library over dir.
func NewLibrary(dir string, grace time.Duration) *Library {
	if grace <= 0 {
		grace = DefaultWriteGrace
	}
	return &Library{dir: dir, grace: grace}
}

// Dir returns the watched directory.
func (l *Library) Dir() string { return l.dir }

// ResolveByRef reads the file a signal referenced. A file that is still
// settling (empty, or inside the write grace) fails with ErrNotReady;
// anything else that disqualifies it is a plain error.
func (l *Library) ResolveByRef(ref string) ([]byte, error) {
	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	if reason, transient := l.pendingReason(ref, info, time.Now()); reason != "" {
		if transient {
			return nil, fmt.Errorf("resolve %q: %s: %w", ref, reason, ErrNotReady)
		}
		return nil, fmt.Errorf("resolve %q: %s", ref, reason)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return data, nil
}

// ResolveLatest finds the most recently modified syncable file in the
// library, skipping files that look like writes in progress. Returns an
// empty path if nothing qualifies.
func (l *Library) ResolveLatest() (string, []byte, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return "", nil, fmt.Errorf("read library %q: %w", l.dir, err)
	}

	now := time.Now()
	var bestPath string
	var bestMod time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if reason, _ := l.pendingReason(path, info, now); reason != "" {
			continue
		}
		if info.ModTime().After(bestMod) {
			bestMod = info.ModTime()
			bestPath = path
		}
	}
	if bestPath == "" {
		return "", nil, nil
	}

	data, err := os.ReadFile(bestPath)
	if err != nil {
		return "", nil, fmt.Errorf("read %q: %w", bestPath, err)
	}
	return bestPath, data, nil
}

// pendingReason reports why a file should be skipped, or "" if it is
// ready to sync. transient is true when the condition clears on its own
// as the write completes.
func (l *Library) pendingReason(path string, info os.FileInfo, now time.Time) (reason string, transient bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return "hidden file", false
	}
	lower := strings.ToLower(name)
	for _, suffix := range pendingSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return "partial write suffix", false
		}
	}
	if !mediaExts[filepath.Ext(lower)] {
		return "not a media file", false
	}
	if info.Size() == 0 {
		return "empty file", true
	}
	if now.Sub(info.ModTime()) < l.grace {
		return "modified too recently", true
	}
	return "", false
}

// ItemID returns a stable identity for a file, preferring device and
// inode so renames do not defeat deduplication. Falls back to the path.
func ItemID(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", stat.Dev, stat.Ino)
	}
	return path
}
