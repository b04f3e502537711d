package widget

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storyslip/storyslip-server/domain/content"
)

// Widget display types
const (
	TypeContentList   = "content-list"
	TypeBlogHub       = "blog-hub"
	TypeFeaturedPosts = "featured-posts"
	TypeCategoryGrid  = "category-grid"
)

// Layout variants. Unrecognized values fall back to LayoutGrid.
const (
	LayoutGrid     = "grid"
	LayoutList     = "list"
	LayoutCarousel = "carousel"
)

// Theme variants. Unrecognized values fall back to ThemeModern.
const (
	ThemeModern  = "modern"
	ThemeMinimal = "minimal"
	ThemeClassic = "classic"
)

// Settings is the widget's free-form configuration map, stored as JSONB.
type Settings struct {
	ItemsPerPage      int      `json:"items_per_page,omitempty"`
	ShowImages        bool     `json:"show_images"`
	ShowExcerpts      bool     `json:"show_excerpts"`
	ShowDates         bool     `json:"show_dates"`
	ShowAuthors       bool     `json:"show_authors"`
	ShowCategories    bool     `json:"show_categories"`
	ShowTags          bool     `json:"show_tags"`
	FeaturedOnly      bool     `json:"featured_only,omitempty"`
	IncludeCategories []string `json:"include_categories,omitempty"`
	ExcludeCategories []string `json:"exclude_categories,omitempty"`
	IncludeTags       []string `json:"include_tags,omitempty"`
	ExcludeTags       []string `json:"exclude_tags,omitempty"`
	IncludeAuthors    []string `json:"include_authors,omitempty"`
	SortBy            string   `json:"sort_by,omitempty"`
	SortOrder         string   `json:"sort_order,omitempty"`
}

// Value implements driver.Valuer for JSONB storage.
func (s Settings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB storage.
func (s *Settings) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	case nil:
		*s = Settings{}
		return nil
	default:
		return fmt.Errorf("unsupported settings type %T", src)
	}
}

// Widget is one embeddable content display unit belonging to a website.
type Widget struct {
	ID              string    `db:"id" json:"id"`
	WebsiteID       string    `db:"website_id" json:"website_id"`
	Name            string    `db:"name" json:"name"`
	Title           string    `db:"title" json:"title"`
	Type            string    `db:"type" json:"type"`
	Layout          string    `db:"layout" json:"layout"`
	Theme           string    `db:"theme" json:"theme"`
	Settings        Settings  `db:"settings" json:"settings"`
	IsPublished     bool      `db:"is_published" json:"is_published"`
	HideAttribution bool      `db:"hide_attribution" json:"hide_attribution"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveLayout returns the widget's layout, falling back to grid for
// anything unrecognized.
func (w *Widget) EffectiveLayout() string {
	switch w.Layout {
	case LayoutGrid, LayoutList, LayoutCarousel:
		return w.Layout
	}
	return LayoutGrid
}

// EffectiveTheme returns the widget's theme, falling back to modern for
// anything unrecognized.
func (w *Widget) EffectiveTheme() string {
	switch w.Theme {
	case ThemeModern, ThemeMinimal, ThemeClassic:
		return w.Theme
	}
	return ThemeModern
}

// ContentFilters maps the widget's static configuration onto the content
// query layer's filter set.
func (w *Widget) ContentFilters() content.Filters {
	f := content.Filters{
		WebsiteID:         w.WebsiteID,
		IncludeCategories: w.Settings.IncludeCategories,
		ExcludeCategories: w.Settings.ExcludeCategories,
		IncludeTags:       w.Settings.IncludeTags,
		ExcludeTags:       w.Settings.ExcludeTags,
		IncludeAuthors:    w.Settings.IncludeAuthors,
		FeaturedOnly:      w.Settings.FeaturedOnly,
		SortBy:            w.Settings.SortBy,
		SortOrder:         w.Settings.SortOrder,
		ItemsPerPage:      w.Settings.ItemsPerPage,
	}
	if w.Type == TypeFeaturedPosts {
		f.FeaturedOnly = true
	}
	return f
}

// Metadata is the SEO block derived from the rendered page of content.
// All values are plain text; HTML present in source fields is stripped
// before it gets here.
type Metadata struct {
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	CanonicalURL   string            `json:"canonical_url,omitempty"`
	OGTags         map[string]string `json:"og_tags"`
	StructuredData json.RawMessage   `json:"structured_data,omitempty"`
}

// Performance carries per-request observability data in the envelope.
type Performance struct {
	CacheHit     bool  `json:"cache_hit"`
	RenderTimeMs int64 `json:"render_time_ms"`
	QueryTimeMs  int64 `json:"query_time_ms"`
}

// Envelope is the transient render output. Never persisted; regenerated
// per request subject to the response cache.
type Envelope struct {
	HTML        string      `json:"html"`
	CSS         string      `json:"css"`
	JS          string      `json:"js"`
	Metadata    Metadata    `json:"metadata"`
	Performance Performance `json:"performance"`
}

// RenderParams are the public request-time overrides.
type RenderParams struct {
	Page      int
	Limit     int
	Search    string
	Category  string
	Tag       string
	Author    string
	SortBy    string
	SortOrder string
}

func (p RenderParams) overrides() content.Overrides {
	return content.Overrides{
		Search:    p.Search,
		Category:  p.Category,
		Tag:       p.Tag,
		Author:    p.Author,
		SortBy:    p.SortBy,
		SortOrder: p.SortOrder,
		Page:      p.Page,
		Limit:     p.Limit,
	}
}

// TrackRequest is the analytics beacon payload.
type TrackRequest struct {
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data"`
	WebsiteID string                 `json:"website_id"`
}

// CreateWidgetRequest is the management payload for creating a widget.
type CreateWidgetRequest struct {
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	Type            string   `json:"type"`
	Layout          string   `json:"layout"`
	Theme           string   `json:"theme"`
	Settings        Settings `json:"settings"`
	IsPublished     bool     `json:"is_published"`
	HideAttribution bool     `json:"hide_attribution"`
}
