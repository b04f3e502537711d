package content

import (
	"time"

	"github.com/lib/pq"
)

// Content publish states
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Item is one content row as consumed by widget rendering: joined author
// name and aggregated category/tag names, no draft-only fields.
type Item struct {
	ID            string         `db:"id" json:"id"`
	WebsiteID     string         `db:"website_id" json:"website_id"`
	Title         string         `db:"title" json:"title"`
	Slug          string         `db:"slug" json:"slug"`
	Excerpt       string         `db:"excerpt" json:"excerpt"`
	Body          string         `db:"body" json:"body"`
	FeaturedImage string         `db:"featured_image_url" json:"featured_image_url"`
	AuthorName    string         `db:"author_name" json:"author_name"`
	IsFeatured    bool           `db:"is_featured" json:"is_featured"`
	PublishedAt   time.Time      `db:"published_at" json:"published_at"`
	ViewCount     int64          `db:"view_count" json:"view_count"`
	Categories    pq.StringArray `db:"categories" json:"categories"`
	Tags          pq.StringArray `db:"tags" json:"tags"`
}

// Page is one page of matching items. Total counts every match before
// pagination so callers can compute total pages.
type Page struct {
	Items []Item
	Total int
}

// TotalPages computes ceil(total/perPage) for 1-indexed pagination.
func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
