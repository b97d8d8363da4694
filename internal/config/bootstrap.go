package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultConfig returns the bootstrap configuration for first run: a
// photo source watching the user's pictures directory and a clipboard
// poller. SMS is not bootstrapped because it needs a broker address; it
// is added explicitly once one exists.
func DefaultConfig() *Config {
	return &Config{
		Sources: []SourceConfig{
			{
				ID:      uuid.Must(uuid.NewV7()),
				Name:    "camera-roll",
				Type:    "photo",
				Enabled: true,
				Params: map[string]string{
					"dir": defaultPhotoDir(),
				},
			},
			{
				ID:      uuid.Must(uuid.NewV7()),
				Name:    "clipboard",
				Type:    "clipboard",
				Enabled: true,
				Params: map[string]string{
					"interval": "1s",
				},
			},
		},
	}
}

// Bootstrap writes the default configuration to a store using individual
// CRUD operations. Call this when Load returns nil (no config exists).
func Bootstrap(ctx context.Context, store Store) error {
	cfg := DefaultConfig()

	for _, src := range cfg.Sources {
		if err := store.PutSource(ctx, src); err != nil {
			return err
		}
	}
	for key, value := range cfg.Settings {
		if err := store.PutSetting(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func defaultPhotoDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Pictures")
}
