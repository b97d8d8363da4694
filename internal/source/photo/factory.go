package photo

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"fastsync/internal/logging"
	"fastsync/internal/source"
)

// ParamDefaults returns the default parameter values for a photo source.
func ParamDefaults() map[string]string {
	return map[string]string{
		"grace": DefaultWriteGrace.String(),
	}
}

// NewFactory returns a source.Factory for photo library watchers.
func NewFactory() source.Factory {
	return func(id uuid.UUID, params map[string]string, logger *slog.Logger) (source.Source, error) {
		cfg, err := parseConfig(id.String(), params, logger)
		if err != nil {
			return nil, err
		}
		return newSource(cfg), nil
	}
}

// config holds parsed configuration for a photo source.
type config struct {
	ID     string
	Dir    string
	Grace  time.Duration
	Logger *slog.Logger
}

func parseConfig(id string, params map[string]string, logger *slog.Logger) (config, error) {
	dir := params["dir"]
	if dir == "" {
		return config{}, fmt.Errorf("photo source %q: dir param required", id)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return config{}, fmt.Errorf("photo source %q: %w", id, err)
	}
	if !info.IsDir() {
		return config{}, fmt.Errorf("photo source %q: %q is not a directory", id, dir)
	}

	grace := DefaultWriteGrace
	if v := params["grace"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("photo source %q: invalid grace %q: %w", id, v, err)
		}
		if d < 0 {
			return config{}, fmt.Errorf("photo source %q: grace must be non-negative", id)
		}
		grace = d
	}

	return config{
		ID:     id,
		Dir:    dir,
		Grace:  grace,
		Logger: logging.Default(logger).With("component", "source", "type", "photo", "instance", id),
	}, nil
}
