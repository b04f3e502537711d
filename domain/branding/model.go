package branding

import "time"

// Branding holds a website's visual overrides applied during widget
// rendering. CustomCSS is admin-authored and trusted; it is appended to the
// generated stylesheet verbatim and must never be sourced from content
// fields.
type Branding struct {
	ID             int64      `db:"id" json:"-"`
	WebsiteID      string     `db:"website_id" json:"website_id"`
	PrimaryColor   string     `db:"primary_color" json:"primary_color"`
	SecondaryColor string     `db:"secondary_color" json:"secondary_color"`
	AccentColor    string     `db:"accent_color" json:"accent_color"`
	TextColor      string     `db:"text_color" json:"text_color"`
	BackgroundColor string    `db:"background_color" json:"background_color"`
	FontFamily     string     `db:"font_family" json:"font_family"`
	HeadingFont    string     `db:"heading_font_family" json:"heading_font_family"`
	LogoURL        string     `db:"logo_url" json:"logo_url"`
	CustomCSS      string     `db:"custom_css" json:"custom_css"`
	CustomDomain   string     `db:"custom_domain" json:"custom_domain"`
	DomainVerified bool       `db:"domain_verified" json:"domain_verified"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Default returns the branding used when a website has not configured any.
func Default(websiteID string) *Branding {
	return &Branding{
		WebsiteID:       websiteID,
		PrimaryColor:    "#3b82f6",
		SecondaryColor:  "#64748b",
		AccentColor:     "#f59e0b",
		TextColor:       "#1e293b",
		BackgroundColor: "#ffffff",
		FontFamily:      "system-ui, -apple-system, sans-serif",
		HeadingFont:     "inherit",
	}
}
