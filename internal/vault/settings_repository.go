package vault

import (
	"context"
	"database/sql"
	"errors"
)

type SettingsRepository struct {
	vault *Vault
}

func NewSettingsRepository(vault *Vault) *SettingsRepository {
	return &SettingsRepository{vault: vault}
}

// GetSetting returns the stored value for key, or defaultValue when the
// key has never been set
func (r *SettingsRepository) GetSetting(ctx context.Context, key, defaultValue string) (string, error) {
	var value string
	err := r.vault.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultValue, nil
	}
	if err != nil {
		return defaultValue, err
	}
	return value, nil
}

// SetSetting stores a key/value pair, replacing any previous value
func (r *SettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.vault.ExecContext(ctx, query, key, value)
	return err
}

// AllSettings returns every stored setting
func (r *SettingsRepository) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.vault.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
