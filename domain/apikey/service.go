package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

// store abstracts key persistence so the service can be exercised against
// a fake in tests.
type store interface {
	widgetExists(ctx context.Context, widgetID string) (bool, error)
	insert(ctx context.Context, k *APIKey) error
	getByHash(ctx context.Context, hash string) (*APIKey, error)
	bumpUsage(ctx context.Context, id string) error
	insertUsage(ctx context.Context, u *Usage) error
	listByWidget(ctx context.Context, widgetID string) ([]APIKey, error)
	revoke(ctx context.Context, widgetID, keyID string) (bool, error)
	deactivateExpired(ctx context.Context) (int64, error)
}

// Service generates, validates, rate-limits, and tracks per-widget API
// keys. It holds a database handle and the shared counter store; construct
// one per process and inject it where needed.
type Service struct {
	store store
	cache cache.Store
	log   logger.Logger
	now   func() time.Time
}

func NewService(db *sqlx.DB, cacheStore cache.Store, log logger.Logger) *Service {
	return &Service{
		store: &sqlStore{db: db},
		cache: cacheStore,
		log:   log.WithComponent("apikey"),
		now:   time.Now,
	}
}

func newServiceWithStore(st store, cacheStore cache.Store, log logger.Logger) *Service {
	return &Service{store: st, cache: cacheStore, log: log.WithComponent("apikey"), now: time.Now}
}

// Generate mints a key for a widget and returns the plaintext secret
// exactly once. Only the sha256 hash and the display prefix are persisted.
func (s *Service) Generate(ctx context.Context, widgetID, name string, perms []Permission, rateLimit int, expiresInDays int) (string, *APIKey, error) {
	ok, err := s.store.widgetExists(ctx, widgetID)
	if err != nil {
		return "", nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "Failed to resolve widget", err)
	}
	if !ok {
		return "", nil, apperrors.NewNotFound(apperrors.ErrCodeWidgetNotFound, "Widget not found")
	}

	if len(perms) == 0 {
		perms = []Permission{PermissionRead}
	}
	if rateLimit <= 0 {
		rateLimit = 100
	}

	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, apperrors.NewInternal(apperrors.ErrCodeUnexpectedError, "Failed to generate key material", err)
	}
	secret := SecretPrefix + hex.EncodeToString(raw)

	key := &APIKey{
		WidgetID:      widgetID,
		Name:          name,
		KeyHash:       HashSecret(secret),
		KeyPrefix:     secret[:PrefixLen],
		Permissions:   permissionStrings(perms),
		RateLimit:     rateLimit,
		WindowMinutes: 1,
		IsActive:      true,
	}
	if expiresInDays > 0 {
		exp := s.now().AddDate(0, 0, expiresInDays)
		key.ExpiresAt = &exp
	}

	if err := s.store.insert(ctx, key); err != nil {
		return "", nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "Failed to store API key", err)
	}

	s.log.Info("API key generated",
		logger.KeyID(key.ID),
		logger.WidgetID(widgetID),
		logger.KeyPrefix(key.KeyPrefix),
	)
	return secret, key, nil
}

// Validate hashes the presented secret and looks it up by hash. The final
// hash comparison is constant time; the lookup itself is an indexed match
// that does not scan plaintexts.
func (s *Service) Validate(ctx context.Context, secret string, required Permission) (Validation, error) {
	if len(secret) <= PrefixLen || secret[:len(SecretPrefix)] != SecretPrefix {
		return Validation{Valid: false, Reason: ReasonInvalidKey}, nil
	}

	hash := HashSecret(secret)
	key, err := s.store.getByHash(ctx, hash)
	if err != nil {
		return Validation{}, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "Failed to look up API key", err)
	}
	if key == nil {
		return Validation{Valid: false, Reason: ReasonInvalidKey}, nil
	}

	if subtle.ConstantTimeCompare([]byte(hash), []byte(key.KeyHash)) != 1 {
		return Validation{Valid: false, Reason: ReasonInvalidKey}, nil
	}

	if !key.IsActive {
		return Validation{Valid: false, Reason: ReasonInvalidKey}, nil
	}
	if key.IsExpired(s.now()) {
		return Validation{Valid: false, Key: key, Reason: ReasonExpired}, nil
	}
	if required != "" && !key.HasPermission(required) {
		return Validation{Valid: false, Key: key, Reason: ReasonInsufficientPermission}, nil
	}

	// Bump usage off the request path; validation never waits on it.
	go func(id, prefix string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.store.bumpUsage(ctx, id); err != nil {
			s.log.Warn("Failed to bump key usage", logger.KeyID(id), logger.KeyPrefix(prefix), logger.Err(err))
		}
	}(key.ID, key.KeyPrefix)

	return Validation{Valid: true, Key: key}, nil
}

// CheckRateLimit counts requests in the key's current fixed window against
// its configured limit. Windows are aligned to epoch multiples of the
// window size, so a burst straddling a boundary may see up to twice the
// nominal limit; that trade-off is deliberate and covered by tests. A
// store outage is returned as an error for the caller's fail-open or
// fail-closed policy.
func (s *Service) CheckRateLimit(ctx context.Context, key *APIKey) (RateLimitStatus, error) {
	window := key.Window()
	now := s.now()
	counterKey := cache.RateLimitKey(key.ID, window, now)

	count, err := s.cache.Incr(ctx, counterKey, window)
	if err != nil {
		return RateLimitStatus{}, fmt.Errorf("rate limit counter: %w", err)
	}

	windowSecs := int64(window.Seconds())
	resetAt := time.Unix((now.Unix()/windowSecs+1)*windowSecs, 0)

	remaining := key.RateLimit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return RateLimitStatus{
		Allowed:   count <= int64(key.RateLimit),
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// LogUsage appends one usage record. It never returns an error: usage
// logging is best effort and must not break the delivery path.
func (s *Service) LogUsage(ctx context.Context, keyID, endpoint, ip, userAgent string, status int, responseTimeMs int64) {
	u := &Usage{
		APIKeyID:       keyID,
		Endpoint:       endpoint,
		IPAddress:      ip,
		UserAgent:      userAgent,
		ResponseStatus: status,
		ResponseTimeMs: responseTimeMs,
	}
	if err := s.store.insertUsage(ctx, u); err != nil {
		s.log.Warn("Failed to log key usage", logger.KeyID(keyID), logger.Err(err))
	}
}

// List returns a widget's keys, newest first.
func (s *Service) List(ctx context.Context, widgetID string) ([]APIKey, error) {
	keys, err := s.store.listByWidget(ctx, widgetID)
	if err != nil {
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "Failed to list API keys", err)
	}
	return keys, nil
}

// Revoke deactivates one key immediately.
func (s *Service) Revoke(ctx context.Context, widgetID, keyID string) error {
	found, err := s.store.revoke(ctx, widgetID, keyID)
	if err != nil {
		return apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "Failed to revoke API key", err)
	}
	if !found {
		return apperrors.NewNotFound(apperrors.ErrCodeAPIKeyNotFound, "API key not found")
	}
	s.log.Info("API key revoked", logger.KeyID(keyID), logger.WidgetID(widgetID))
	return nil
}

// CleanupExpiredKeys flips is_active off for every key past its expiry.
// Idempotent; concurrent sweeps simply skip already-deactivated keys.
func (s *Service) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	n, err := s.store.deactivateExpired(ctx)
	if err != nil {
		return 0, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "Expired key sweep failed", err)
	}
	if n > 0 {
		s.log.Info("Expired API keys deactivated", logger.Int64("count", n))
	}
	return n, nil
}

// HashSecret is the one-way mapping from plaintext secret to the stored
// lookup hash.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func permissionStrings(perms []Permission) pq.StringArray {
	out := make(pq.StringArray, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}
