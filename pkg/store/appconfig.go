package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// LoadOverrides reads the runtime pipeline settings from app_config. Each
// row is one key with a JSON-encoded value; the orchestrator re-reads
// them before every run so operators can tune without restarting.
func (s *Store) LoadOverrides(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_config`)
	if err != nil {
		return nil, fmt.Errorf("fetch app config: %w", err)
	}
	defer func() { _ = rows.Close() }()

	overrides := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan app config: %w", err)
		}
		overrides[key] = json.RawMessage(value)
	}
	return overrides, rows.Err()
}

// SetOverride upserts one runtime setting.
func (s *Store) SetOverride(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return fmt.Errorf("app config value for %q is not valid JSON", key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("set app config %q: %w", key, err)
	}
	return nil
}
