// Package config provides configuration persistence for the agent.
//
// Store persists the desired agent shape across restarts: which change
// sources exist and a small set of key-value settings, including a manual
// endpoint override. This is control-plane state; the sync pipeline never
// touches the store on the hot path.
package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store persists and loads agent configuration with granular CRUD
// operations.
//
// Validation: Store does not validate config semantics. It only ensures
// the data can be serialized and deserialized. Semantic validation
// (duplicate names, unknown source types) is the responsibility of the
// component that consumes the config.
type Store interface {
	// Load reads the full configuration. Returns nil if nothing exists
	// (bootstrap signal).
	Load(ctx context.Context) (*Config, error)

	// Sources
	GetSource(ctx context.Context, id uuid.UUID) (*SourceConfig, error)
	ListSources(ctx context.Context) ([]SourceConfig, error)
	PutSource(ctx context.Context, cfg SourceConfig) error
	DeleteSource(ctx context.Context, id uuid.UUID) error

	// Settings
	GetSetting(ctx context.Context, key string) (*string, error)
	PutSetting(ctx context.Context, key string, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Config describes the desired agent shape.
// It is declarative: it defines what should exist, not how to create it.
type Config struct {
	Sources  []SourceConfig    `json:"sources,omitempty"`
	Settings map[string]string `json:"settings,omitempty"`
}

// SourceConfig describes a change source to instantiate.
type SourceConfig struct {
	// ID is a unique identifier for this source.
	ID uuid.UUID `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// Type identifies the source implementation (e.g., "photo", "sms",
	// "clipboard").
	Type string `json:"type"`

	// Params contains type-specific configuration as opaque string
	// key-value pairs. Parsing and validation are the responsibility of
	// the factory that consumes the params.
	Params map[string]string `json:"params,omitempty"`

	// Enabled controls whether the source is started.
	Enabled bool `json:"enabled"`
}

// SettingEndpoint is the settings key holding the persisted manual
// endpoint override as JSON.
const SettingEndpoint = "endpoint"

// EndpointOverride is a persisted manual endpoint override.
type EndpointOverride struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LoadEndpointOverride reads the persisted override. Returns nil if none
// is set.
func LoadEndpointOverride(ctx context.Context, store Store) (*EndpointOverride, error) {
	value, err := store.GetSetting(ctx, SettingEndpoint)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	var ov EndpointOverride
	if err := json.Unmarshal([]byte(*value), &ov); err != nil {
		return nil, fmt.Errorf("unmarshal endpoint override: %w", err)
	}
	return &ov, nil
}

// SaveEndpointOverride persists a manual override so it survives restarts.
func SaveEndpointOverride(ctx context.Context, store Store, ov EndpointOverride) error {
	data, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("marshal endpoint override: %w", err)
	}
	return store.PutSetting(ctx, SettingEndpoint, string(data))
}
