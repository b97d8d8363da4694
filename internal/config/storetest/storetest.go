// Package storetest provides a shared conformance test suite for
// config.Store implementations. Each backend (memory, sqlite) wires this
// suite to verify it satisfies the full Store contract.
package storetest

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"fastsync/internal/config"
)

func newID() uuid.UUID { return uuid.Must(uuid.NewV7()) }

// TestStore runs the full conformance suite against a Store implementation.
// newStore must return a fresh, empty store for each sub-test.
func TestStore(t *testing.T, newStore func(t *testing.T) config.Store) {
	t.Run("LoadEmpty", func(t *testing.T) {
		s := newStore(t)
		cfg, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg != nil {
			t.Fatalf("expected nil config from empty store, got %+v", cfg)
		}
	})

	t.Run("PutGetSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id := newID()
		src := config.SourceConfig{
			ID:      id,
			Name:    "camera-roll",
			Type:    "photo",
			Enabled: true,
			Params:  map[string]string{"dir": "/photos"},
		}
		if err := s.PutSource(ctx, src); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := s.GetSource(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil {
			t.Fatal("expected source, got nil")
		}
		if got.Name != "camera-roll" || got.Type != "photo" || !got.Enabled {
			t.Errorf("unexpected source: %+v", got)
		}
		if got.Params["dir"] != "/photos" {
			t.Errorf("Params: expected dir=/photos, got %v", got.Params)
		}
	})

	t.Run("GetSourceMissing", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetSource(context.Background(), newID())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil for missing source, got %+v", got)
		}
	})

	t.Run("PutSourceUpsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id := newID()
		if err := s.PutSource(ctx, config.SourceConfig{ID: id, Name: "a", Type: "photo", Enabled: true}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.PutSource(ctx, config.SourceConfig{ID: id, Name: "b", Type: "photo", Enabled: false}); err != nil {
			t.Fatalf("Put upsert: %v", err)
		}

		got, err := s.GetSource(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != "b" || got.Enabled {
			t.Errorf("upsert did not replace: %+v", got)
		}

		all, err := s.ListSources(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("expected one source after upsert, got %d", len(all))
		}
	})

	t.Run("DeleteSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id := newID()
		if err := s.PutSource(ctx, config.SourceConfig{ID: id, Name: "x", Type: "clipboard"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.DeleteSource(ctx, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		got, err := s.GetSource(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil after delete, got %+v", got)
		}
	})

	t.Run("Settings", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.PutSetting(ctx, "k", "v1"); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.PutSetting(ctx, "k", "v2"); err != nil {
			t.Fatalf("Put upsert: %v", err)
		}

		got, err := s.GetSetting(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil || *got != "v2" {
			t.Errorf("expected v2, got %v", got)
		}

		missing, err := s.GetSetting(ctx, "nope")
		if err != nil {
			t.Fatalf("Get missing: %v", err)
		}
		if missing != nil {
			t.Errorf("expected nil for missing setting, got %q", *missing)
		}

		if err := s.DeleteSetting(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		got, err = s.GetSetting(ctx, "k")
		if err != nil {
			t.Fatalf("Get after delete: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil after delete, got %q", *got)
		}
	})

	t.Run("EndpointOverrideRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ov, err := config.LoadEndpointOverride(ctx, s)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if ov != nil {
			t.Fatalf("expected no override, got %+v", ov)
		}

		if err := config.SaveEndpointOverride(ctx, s, config.EndpointOverride{Host: "10.0.0.5", Port: 4000}); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ov, err = config.LoadEndpointOverride(ctx, s)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if ov == nil || ov.Host != "10.0.0.5" || ov.Port != 4000 {
			t.Errorf("unexpected override: %+v", ov)
		}
	})

	t.Run("LoadFull", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.PutSource(ctx, config.SourceConfig{ID: newID(), Name: "a", Type: "photo", Enabled: true}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.PutSetting(ctx, "k", "v"); err != nil {
			t.Fatalf("PutSetting: %v", err)
		}

		cfg, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg == nil {
			t.Fatal("expected config, got nil")
		}
		if len(cfg.Sources) != 1 {
			t.Errorf("expected one source, got %d", len(cfg.Sources))
		}
		if cfg.Settings["k"] != "v" {
			t.Errorf("expected setting k=v, got %v", cfg.Settings)
		}
	})
}
