// Package sqlite provides a SQLite-based config.Store implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"fastsync/internal/config"
)

// Store is a SQLite-based config.Store implementation.
type Store struct {
	db   *sql.DB
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore opens a SQLite database at path and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Set pragmas.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the full configuration. Returns nil if all tables are empty.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM sources)
		     + (SELECT count(*) FROM settings)
	`).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("count entities: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.listSettings(ctx)
	if err != nil {
		return nil, err
	}

	return &config.Config{
		Sources:  sources,
		Settings: settings,
	}, nil
}

// Sources

func (s *Store) GetSource(ctx context.Context, id uuid.UUID) (*config.SourceConfig, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, type, params, enabled FROM sources WHERE id = ?", id)

	var src config.SourceConfig
	var paramsJSON *string
	err := row.Scan(&src.ID, &src.Name, &src.Type, &paramsJSON, &src.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source %q: %w", id, err)
	}
	if paramsJSON != nil {
		if err := json.Unmarshal([]byte(*paramsJSON), &src.Params); err != nil {
			return nil, fmt.Errorf("unmarshal source %q params: %w", id, err)
		}
	}
	return &src, nil
}

func (s *Store) ListSources(ctx context.Context) ([]config.SourceConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, type, params, enabled FROM sources")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var result []config.SourceConfig
	for rows.Next() {
		var src config.SourceConfig
		var paramsJSON *string
		if err := rows.Scan(&src.ID, &src.Name, &src.Type, &paramsJSON, &src.Enabled); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if paramsJSON != nil {
			if err := json.Unmarshal([]byte(*paramsJSON), &src.Params); err != nil {
				return nil, fmt.Errorf("unmarshal source params: %w", err)
			}
		}
		result = append(result, src)
	}
	return result, rows.Err()
}

func (s *Store) PutSource(ctx context.Context, src config.SourceConfig) error {
	var paramsJSON *string
	if src.Params != nil {
		data, err := json.Marshal(src.Params)
		if err != nil {
			return fmt.Errorf("marshal source %q params: %w", src.ID, err)
		}
		v := string(data)
		paramsJSON = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, name, type, params, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			params = excluded.params,
			enabled = excluded.enabled
	`, src.ID, src.Name, src.Type, paramsJSON, src.Enabled)
	if err != nil {
		return fmt.Errorf("put source %q: %w", src.ID, err)
	}
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete source %q: %w", id, err)
	}
	return nil
}

// Settings

func (s *Store) listSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}

func (s *Store) GetSetting(ctx context.Context, key string) (*string, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return &value, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}
