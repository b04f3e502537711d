package apikey

import (
	"time"

	"github.com/lib/pq"
)

// Permission is one grant inside an API key's permission set.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	// PermissionAdmin acts as a wildcard covering every other permission.
	PermissionAdmin Permission = "admin"
)

// SecretPrefix makes leaked StorySlip keys recognizable in scanners.
const SecretPrefix = "ss_"

// PrefixLen is how many leading characters of a secret may be stored and
// logged. Everything past the prefix exists only as a one-way hash.
const PrefixLen = 11

// APIKey is the persisted key record. The raw secret is returned exactly
// once at creation and is never stored.
type APIKey struct {
	ID            string         `db:"id" json:"id"`
	WidgetID      string         `db:"widget_id" json:"widget_id"`
	Name          string         `db:"name" json:"name"`
	KeyHash       string         `db:"key_hash" json:"-"`
	KeyPrefix     string         `db:"key_prefix" json:"key_prefix"`
	Permissions   pq.StringArray `db:"permissions" json:"permissions"`
	RateLimit     int            `db:"rate_limit" json:"rate_limit"`
	WindowMinutes int            `db:"window_minutes" json:"window_minutes"`
	ExpiresAt     *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
	IsActive      bool           `db:"is_active" json:"is_active"`
	UsageCount    int64          `db:"usage_count" json:"usage_count"`
	LastUsedAt    *time.Time     `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}

// HasPermission reports whether the key's set covers p. A key holding
// admin covers everything.
func (k *APIKey) HasPermission(p Permission) bool {
	for _, have := range k.Permissions {
		if have == string(PermissionAdmin) || have == string(p) {
			return true
		}
	}
	return false
}

// IsExpired reports whether the key is past its expiry. An expired key is
// invalid even while a cleanup sweep has not yet flipped is_active.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Window returns the key's rate-limit window.
func (k *APIKey) Window() time.Duration {
	minutes := k.WindowMinutes
	if minutes <= 0 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// CanWrite reports whether the key carries write or admin permission.
// Rate limiting fails closed for such keys when the counter store is down.
func (k *APIKey) CanWrite() bool {
	return k.HasPermission(PermissionWrite)
}

// Usage is one append-only row in the key usage log. Written from the
// delivery path, read only by reporting; never mutated.
type Usage struct {
	ID             int64     `db:"id" json:"id"`
	APIKeyID       string    `db:"api_key_id" json:"api_key_id"`
	Endpoint       string    `db:"endpoint" json:"endpoint"`
	IPAddress      string    `db:"ip_address" json:"ip_address"`
	UserAgent      string    `db:"user_agent" json:"user_agent"`
	ResponseStatus int       `db:"response_status" json:"response_status"`
	ResponseTimeMs int64     `db:"response_time_ms" json:"response_time_ms"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Reason explains a failed validation.
type Reason string

const (
	ReasonInvalidKey             Reason = "invalid_key"
	ReasonExpired                Reason = "expired"
	ReasonInsufficientPermission Reason = "insufficient_permission"
)

// Validation is the outcome of checking a presented secret.
type Validation struct {
	Valid  bool
	Key    *APIKey
	Reason Reason
}

// RateLimitStatus is the outcome of a fixed-window rate-limit check.
type RateLimitStatus struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// CreateKeyRequest is the management payload for minting a key.
type CreateKeyRequest struct {
	Name          string   `json:"name"`
	Permissions   []string `json:"permissions"`
	RateLimit     int      `json:"rate_limit"`
	ExpiresInDays int      `json:"expires_in_days"`
}

// CreateKeyResponse carries the plaintext secret exactly once.
type CreateKeyResponse struct {
	Key    *APIKey `json:"key"`
	Secret string  `json:"secret"`
}
