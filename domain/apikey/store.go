package apikey

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// sqlStore is the Postgres-backed store used in production.
type sqlStore struct {
	db *sqlx.DB
}

func (s *sqlStore) widgetExists(ctx context.Context, widgetID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM widgets WHERE id = $1)", widgetID)
	return exists, err
}

func (s *sqlStore) insert(ctx context.Context, k *APIKey) error {
	return s.db.QueryRowxContext(ctx, `
		INSERT INTO api_keys
			(widget_id, name, key_hash, key_prefix, permissions,
			 rate_limit, window_minutes, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		RETURNING id, created_at
	`, k.WidgetID, k.Name, k.KeyHash, k.KeyPrefix, k.Permissions,
		k.RateLimit, k.WindowMinutes, k.ExpiresAt).
		Scan(&k.ID, &k.CreatedAt)
}

func (s *sqlStore) getByHash(ctx context.Context, hash string) (*APIKey, error) {
	var k APIKey
	err := s.db.GetContext(ctx, &k, `
		SELECT id, widget_id, name, key_hash, key_prefix, permissions,
		       rate_limit, window_minutes, expires_at, is_active,
		       usage_count, last_used_at, created_at
		FROM api_keys
		WHERE key_hash = $1
	`, hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// bumpUsage uses an atomic in-database increment so concurrent validations
// of the same key never lose updates.
func (s *sqlStore) bumpUsage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET usage_count = usage_count + 1, last_used_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (s *sqlStore) insertUsage(ctx context.Context, u *Usage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_key_usage
			(api_key_id, endpoint, ip_address, user_agent,
			 response_status, response_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.APIKeyID, u.Endpoint, u.IPAddress, u.UserAgent,
		u.ResponseStatus, u.ResponseTimeMs)
	return err
}

func (s *sqlStore) listByWidget(ctx context.Context, widgetID string) ([]APIKey, error) {
	keys := []APIKey{}
	err := s.db.SelectContext(ctx, &keys, `
		SELECT id, widget_id, name, key_hash, key_prefix, permissions,
		       rate_limit, window_minutes, expires_at, is_active,
		       usage_count, last_used_at, created_at
		FROM api_keys
		WHERE widget_id = $1
		ORDER BY created_at DESC
	`, widgetID)
	return keys, err
}

func (s *sqlStore) revoke(ctx context.Context, widgetID, keyID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = FALSE
		WHERE id = $1 AND widget_id = $2
	`, keyID, widgetID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) deactivateExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = FALSE
		WHERE is_active = TRUE
		  AND expires_at IS NOT NULL
		  AND expires_at < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
