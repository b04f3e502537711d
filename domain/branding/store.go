package branding

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Store reads and writes per-website branding configurations.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// GetByWebsiteID returns the website's branding, falling back to defaults
// when none is configured. The renderer always receives a usable value.
func (s *Store) GetByWebsiteID(ctx context.Context, websiteID string) (*Branding, error) {
	var b Branding
	err := s.db.GetContext(ctx, &b, `
		SELECT id, website_id, primary_color, secondary_color, accent_color,
		       text_color, background_color, font_family, heading_font_family,
		       logo_url, custom_css, custom_domain, domain_verified,
		       created_at, updated_at
		FROM branding_configurations
		WHERE website_id = $1
	`, websiteID)
	if err == sql.ErrNoRows {
		return Default(websiteID), nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// WebsiteOwnedBy reports whether the website belongs to the given user.
func (s *Store) WebsiteOwnedBy(ctx context.Context, websiteID string, userID int64) (bool, error) {
	var owned bool
	err := s.db.GetContext(ctx, &owned,
		`SELECT EXISTS (SELECT 1 FROM websites WHERE id = $1 AND owner_user_id = $2)`,
		websiteID, userID)
	return owned, err
}

// Upsert writes the website's branding configuration.
func (s *Store) Upsert(ctx context.Context, b *Branding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branding_configurations
			(website_id, primary_color, secondary_color, accent_color,
			 text_color, background_color, font_family, heading_font_family,
			 logo_url, custom_css, custom_domain, domain_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (website_id) DO UPDATE SET
			primary_color = EXCLUDED.primary_color,
			secondary_color = EXCLUDED.secondary_color,
			accent_color = EXCLUDED.accent_color,
			text_color = EXCLUDED.text_color,
			background_color = EXCLUDED.background_color,
			font_family = EXCLUDED.font_family,
			heading_font_family = EXCLUDED.heading_font_family,
			logo_url = EXCLUDED.logo_url,
			custom_css = EXCLUDED.custom_css,
			custom_domain = EXCLUDED.custom_domain,
			domain_verified = EXCLUDED.domain_verified,
			updated_at = NOW()
	`, b.WebsiteID, b.PrimaryColor, b.SecondaryColor, b.AccentColor,
		b.TextColor, b.BackgroundColor, b.FontFamily, b.HeadingFont,
		b.LogoURL, b.CustomCSS, b.CustomDomain, b.DomainVerified)
	return err
}
