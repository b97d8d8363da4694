// Package home manages the fastsync home directory layout.
//
// The home directory owns all persistent state: the config store and the
// agent's instance identity.
//
// Layout:
//
//	<root>/
//	  config.json  or  config.db    (config store, type-dependent)
//	  instance_id                   (persistent agent identity)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir represents a fastsync home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/fastsync
//   - macOS:   ~/Library/Application Support/fastsync
//   - Windows: %APPDATA%/fastsync
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "fastsync")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the config store path for the given store type.
func (d Dir) ConfigPath(storeType string) string {
	switch storeType {
	case "sqlite":
		return filepath.Join(d.root, "config.db")
	default:
		return filepath.Join(d.root, "config.json")
	}
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// InstanceID reads the persistent agent identity from <root>/instance_id.
// If the file doesn't exist, a new UUIDv7 is generated and written.
func (d Dir) InstanceID() (string, error) {
	return d.readOrCreate("instance_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p)
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
