package widget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store is the widget persistence layer.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const widgetColumns = `id, website_id, name, title, type, layout, theme, settings,
	is_published, hide_attribution, created_at, updated_at`

// GetPublished fetches a widget for public rendering. Both a missing
// widget and an unpublished one return (nil, nil) so the public surface
// cannot be used to probe which IDs exist.
func (s *Store) GetPublished(ctx context.Context, id string) (*Widget, error) {
	var w Widget
	err := s.db.GetContext(ctx, &w,
		`SELECT `+widgetColumns+` FROM widgets WHERE id = $1 AND is_published = TRUE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get published widget: %w", err)
	}
	return &w, nil
}

// GetByID fetches a widget regardless of publish state, for management use.
func (s *Store) GetByID(ctx context.Context, id string) (*Widget, error) {
	var w Widget
	err := s.db.GetContext(ctx, &w,
		`SELECT `+widgetColumns+` FROM widgets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get widget: %w", err)
	}
	return &w, nil
}

// OwnedBy reports whether the widget's website belongs to the given user.
func (s *Store) OwnedBy(ctx context.Context, widgetID string, userID int64) (bool, error) {
	var owned bool
	err := s.db.GetContext(ctx, &owned,
		`SELECT EXISTS (
			SELECT 1 FROM widgets w
			JOIN websites ws ON ws.id = w.website_id
			WHERE w.id = $1 AND ws.owner_user_id = $2
		)`, widgetID, userID)
	if err != nil {
		return false, fmt.Errorf("check widget ownership: %w", err)
	}
	return owned, nil
}

// WebsiteOwnedBy reports whether the website belongs to the given user.
func (s *Store) WebsiteOwnedBy(ctx context.Context, websiteID string, userID int64) (bool, error) {
	var owned bool
	err := s.db.GetContext(ctx, &owned,
		`SELECT EXISTS (SELECT 1 FROM websites WHERE id = $1 AND owner_user_id = $2)`,
		websiteID, userID)
	if err != nil {
		return false, fmt.Errorf("check website ownership: %w", err)
	}
	return owned, nil
}

// ContentVersion returns the most recent content change for a website,
// used to version render caches and ETags. A website with no content gets
// the zero time, which still produces a stable tag.
func (s *Store) ContentVersion(ctx context.Context, websiteID string) (time.Time, error) {
	var v sql.NullTime
	err := s.db.GetContext(ctx, &v,
		`SELECT MAX(updated_at) FROM content_items WHERE website_id = $1`, websiteID)
	if err != nil {
		return time.Time{}, fmt.Errorf("content version: %w", err)
	}
	if !v.Valid {
		return time.Time{}, nil
	}
	return v.Time, nil
}

// Create inserts a widget and returns it with generated fields populated.
func (s *Store) Create(ctx context.Context, websiteID string, req *CreateWidgetRequest) (*Widget, error) {
	var w Widget
	err := s.db.GetContext(ctx, &w,
		`INSERT INTO widgets (website_id, name, title, type, layout, theme, settings, is_published, hide_attribution)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+widgetColumns,
		websiteID, req.Name, req.Title, req.Type, req.Layout, req.Theme,
		req.Settings, req.IsPublished, req.HideAttribution)
	if err != nil {
		return nil, fmt.Errorf("create widget: %w", err)
	}
	return &w, nil
}

// Update overwrites a widget's configuration. Returns (nil, nil) when the
// widget does not exist.
func (s *Store) Update(ctx context.Context, id string, req *CreateWidgetRequest) (*Widget, error) {
	var w Widget
	err := s.db.GetContext(ctx, &w,
		`UPDATE widgets
		 SET name = $2, title = $3, type = $4, layout = $5, theme = $6,
		     settings = $7, is_published = $8, hide_attribution = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+widgetColumns,
		id, req.Name, req.Title, req.Type, req.Layout, req.Theme,
		req.Settings, req.IsPublished, req.HideAttribution)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update widget: %w", err)
	}
	return &w, nil
}

// Delete removes a widget. Deleting a missing widget is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM widgets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete widget: %w", err)
	}
	return nil
}

// ListByWebsite returns every widget for a website, newest first.
func (s *Store) ListByWebsite(ctx context.Context, websiteID string) ([]Widget, error) {
	widgets := []Widget{}
	err := s.db.SelectContext(ctx, &widgets,
		`SELECT `+widgetColumns+` FROM widgets WHERE website_id = $1 ORDER BY created_at DESC`,
		websiteID)
	if err != nil {
		return nil, fmt.Errorf("list widgets: %w", err)
	}
	return widgets, nil
}
