package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/storyslip/storyslip-server/utils"
)

// Seed inserts a demo account, website, published content, and a widget
// for local development. Running it twice is safe.
func Seed(db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hash, err := utils.HashPassword("demo1234")
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	var userID int64
	err = db.GetContext(ctx, &userID,
		`INSERT INTO users (email, name, password_hash)
		 VALUES ('demo@storyslip.com', 'Demo User', $1)
		 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, hash)
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}

	var websiteID string
	err = db.GetContext(ctx, &websiteID,
		`SELECT id FROM websites WHERE owner_user_id = $1 AND name = 'Demo Blog'`, userID)
	if err != nil {
		err = db.GetContext(ctx, &websiteID,
			`INSERT INTO websites (owner_user_id, name, domain)
			 VALUES ($1, 'Demo Blog', 'demo.storyslip.com')
			 RETURNING id`, userID)
		if err != nil {
			return fmt.Errorf("seed website: %w", err)
		}
	}

	var authorID string
	err = db.GetContext(ctx, &authorID,
		`INSERT INTO authors (website_id, name, slug)
		 VALUES ($1, 'Jamie Doe', 'jamie-doe')
		 ON CONFLICT (website_id, slug) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, websiteID)
	if err != nil {
		return fmt.Errorf("seed author: %w", err)
	}

	var categoryID string
	err = db.GetContext(ctx, &categoryID,
		`INSERT INTO categories (website_id, name, slug)
		 VALUES ($1, 'News', 'news')
		 ON CONFLICT (website_id, slug) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, websiteID)
	if err != nil {
		return fmt.Errorf("seed category: %w", err)
	}

	posts := []struct {
		title, slug, body string
		daysAgo           int
		featured          bool
	}{
		{"Welcome to StorySlip", "welcome", "<p>Embeddable content, finally painless.</p>", 14, true},
		{"Styling your widget", "styling-your-widget", "<p>Themes, layouts, and custom CSS.</p>", 7, false},
		{"Shipping the embed", "shipping-the-embed", "<p>One script tag and you are live.</p>", 1, false},
	}

	for _, p := range posts {
		var contentID string
		err = db.GetContext(ctx, &contentID,
			`INSERT INTO content_items (website_id, author_id, title, slug, excerpt, body, status, is_featured, published_at)
			 VALUES ($1, $2, $3, $4, '', $5, 'published', $6, NOW() - make_interval(days => $7))
			 ON CONFLICT (website_id, slug) DO UPDATE SET title = EXCLUDED.title
			 RETURNING id`,
			websiteID, authorID, p.title, p.slug, p.body, p.featured, p.daysAgo)
		if err != nil {
			return fmt.Errorf("seed content %q: %w", p.slug, err)
		}

		if _, err := db.ExecContext(ctx,
			`INSERT INTO content_categories (content_id, category_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, contentID, categoryID); err != nil {
			return fmt.Errorf("seed content category: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO widgets (website_id, name, title, type, layout, theme, settings, is_published)
		 SELECT $1, 'Demo feed', 'Latest Posts', 'content-list', 'grid', 'modern',
		        '{"show_images": true, "show_excerpts": true, "show_dates": true, "show_authors": true, "items_per_page": 10}',
		        TRUE
		 WHERE NOT EXISTS (SELECT 1 FROM widgets WHERE website_id = $1 AND name = 'Demo feed')`,
		websiteID); err != nil {
		return fmt.Errorf("seed widget: %w", err)
	}

	return nil
}
