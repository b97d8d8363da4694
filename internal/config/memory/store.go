// Package memory provides an in-memory config.Store implementation.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"fastsync/internal/config"
)

// Store is an in-memory config.Store implementation.
// Intended for testing. Configuration is not persisted across restarts.
type Store struct {
	mu       sync.RWMutex
	sources  map[uuid.UUID]config.SourceConfig
	settings map[string]string
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new in-memory config store.
func NewStore() *Store {
	return &Store{
		sources:  make(map[uuid.UUID]config.SourceConfig),
		settings: make(map[string]string),
	}
}

// Load returns the stored configuration. Returns nil if nothing has been
// saved.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.sources) == 0 && len(s.settings) == 0 {
		return nil, nil
	}

	cfg := &config.Config{
		Settings: maps.Clone(s.settings),
	}
	for _, src := range s.sources {
		cfg.Sources = append(cfg.Sources, copySource(src))
	}
	return cfg, nil
}

func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*config.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	if !ok {
		return nil, nil
	}
	cp := copySource(src)
	return &cp, nil
}

func (s *Store) ListSources(ctx context.Context) ([]config.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []config.SourceConfig
	for _, src := range s.sources {
		result = append(result, copySource(src))
	}
	return result, nil
}

func (s *Store) PutSource(ctx context.Context, cfg config.SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[cfg.ID] = copySource(cfg)
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sources, id)
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.settings, key)
	return nil
}

// copySource creates a copy with its own params map.
func copySource(src config.SourceConfig) config.SourceConfig {
	cp := src
	cp.Params = maps.Clone(src.Params)
	return cp
}
