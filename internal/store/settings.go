package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ayusman/palmscroll/internal/settings"
)

const (
	// SettingsKey holds the settings blob.
	SettingsKey = "gestureSettings"
	// EnabledKey holds whether gesture control was last left on.
	EnabledKey = "gesturesEnabled"
)

// SettingsRepository persists the settings blob. Writes replace the whole
// value; the last write wins.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Load returns the persisted settings merged over the defaults. A missing row
// yields the defaults.
func (r *SettingsRepository) Load(ctx context.Context) (settings.Settings, error) {
	raw, err := r.get(ctx, SettingsKey)
	if errors.Is(err, ErrNotFound) {
		return settings.Default(), nil
	}
	if err != nil {
		return settings.Settings{}, err
	}

	var stored settings.Patch
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return settings.Settings{}, fmt.Errorf("decode %s: %w", SettingsKey, err)
	}
	return settings.Default().Apply(stored), nil
}

// Save validates and writes s.
func (r *SettingsRepository) Save(ctx context.Context, s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.put(ctx, SettingsKey, string(data))
}

// Enabled reports whether gesture control was last left on.
func (r *SettingsRepository) Enabled(ctx context.Context) (bool, error) {
	raw, err := r.get(ctx, EnabledKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(raw)
}

// SetEnabled records whether gesture control is on.
func (r *SettingsRepository) SetEnabled(ctx context.Context, enabled bool) error {
	return r.put(ctx, EnabledKey, strconv.FormatBool(enabled))
}

func (r *SettingsRepository) get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

func (r *SettingsRepository) put(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	return err
}
