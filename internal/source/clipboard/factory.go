package clipboard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"fastsync/internal/logging"
	"fastsync/internal/source"
)

// DefaultInterval is the clipboard poll interval.
const DefaultInterval = time.Second

// ParamDefaults returns the default parameter values for a clipboard
// source.
func ParamDefaults() map[string]string {
	return map[string]string{
		"interval": DefaultInterval.String(),
	}
}

// NewFactory returns a source.Factory for clipboard pollers.
func NewFactory() source.Factory {
	return func(id uuid.UUID, params map[string]string, logger *slog.Logger) (source.Source, error) {
		cfg, err := parseConfig(id.String(), params, logger)
		if err != nil {
			return nil, err
		}
		return newSource(cfg), nil
	}
}

// config holds parsed configuration for a clipboard source.
type config struct {
	ID       string
	Interval time.Duration
	Read     func() (string, error)
	Logger   *slog.Logger
}

func parseConfig(id string, params map[string]string, logger *slog.Logger) (config, error) {
	interval := DefaultInterval
	if v := params["interval"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("clipboard source %q: invalid interval %q: %w", id, v, err)
		}
		if d <= 0 {
			return config{}, fmt.Errorf("clipboard source %q: interval must be positive", id)
		}
		interval = d
	}

	return config{
		ID:       id,
		Interval: interval,
		Read:     clipboard.ReadAll,
		Logger:   logging.Default(logger).With("component", "source", "type", "clipboard", "instance", id),
	}, nil
}
