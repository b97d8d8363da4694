package agent

import (
	"fmt"
	"log/slog"

	"fastsync/internal/config"
	"fastsync/internal/source"
	"fastsync/internal/source/clipboard"
	"fastsync/internal/source/photo"
	"fastsync/internal/source/sms"
)

// Factories maps a source type name to its factory.
type Factories map[string]source.Factory

// DefaultFactories returns the built-in source types.
func DefaultFactories() Factories {
	return Factories{
		"photo":     photo.NewFactory(),
		"sms":       sms.NewFactory(),
		"clipboard": clipboard.NewFactory(),
	}
}

// BuildSources instantiates every enabled source from the stored config
// and registers it on the agent. Disabled sources are skipped; an unknown
// type or a factory error aborts the build.
func (a *Agent) BuildSources(cfgs []config.SourceConfig, factories Factories, logger *slog.Logger) error {
	for _, sc := range cfgs {
		if !sc.Enabled {
			a.logger.Info("skipping disabled source", "id", sc.ID, "name", sc.Name)
			continue
		}
		factory, ok := factories[sc.Type]
		if !ok {
			return fmt.Errorf("source %q (%s): %w: %s", sc.Name, sc.ID, ErrUnknownSourceType, sc.Type)
		}
		src, err := factory(sc.ID, sc.Params, logger)
		if err != nil {
			return fmt.Errorf("source %q (%s): %w", sc.Name, sc.ID, err)
		}
		a.RegisterSource(sc.ID, SourceMeta{Name: sc.Name, Type: sc.Type}, src)
	}
	return nil
}
