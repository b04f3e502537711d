package apikey

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

type fakeStore struct {
	mu       sync.Mutex
	widgets  map[string]bool
	keys     map[string]*APIKey // by hash
	usage    []Usage
	usageErr error
	bumped   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		widgets: map[string]bool{"w1": true},
		keys:    map[string]*APIKey{},
	}
}

func (f *fakeStore) widgetExists(_ context.Context, widgetID string) (bool, error) {
	return f.widgets[widgetID], nil
}

func (f *fakeStore) insert(_ context.Context, k *APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k.ID = "key-" + k.KeyPrefix
	k.CreatedAt = time.Now()
	f.keys[k.KeyHash] = k
	return nil
}

func (f *fakeStore) getByHash(_ context.Context, hash string) (*APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[hash]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) bumpUsage(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumped++
	return nil
}

func (f *fakeStore) insertUsage(_ context.Context, u *Usage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usageErr != nil {
		return f.usageErr
	}
	f.usage = append(f.usage, *u)
	return nil
}

func (f *fakeStore) listByWidget(_ context.Context, widgetID string) ([]APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []APIKey{}
	for _, k := range f.keys {
		if k.WidgetID == widgetID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeStore) revoke(_ context.Context, widgetID, keyID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.ID == keyID && k.WidgetID == widgetID {
			k.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) deactivateExpired(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range f.keys {
		if k.IsActive && k.IsExpired(time.Now()) {
			k.IsActive = false
			n++
		}
	}
	return n, nil
}

func newTestService(st store) *Service {
	return newServiceWithStore(st, cache.NewMemoryStore(), logger.Get())
}

func TestGenerateReturnsSecretOnce(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st)

	secret, key, err := svc.Generate(context.Background(), "w1", "prod key",
		[]Permission{PermissionRead}, 100, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !strings.HasPrefix(secret, SecretPrefix) {
		t.Fatalf("secret %q missing %q prefix", secret, SecretPrefix)
	}
	if len(secret) != len(SecretPrefix)+40 {
		t.Fatalf("secret length = %d, want %d", len(secret), len(SecretPrefix)+40)
	}
	if key.KeyHash == secret || strings.Contains(key.KeyHash, secret) {
		t.Fatal("plaintext secret leaked into the persisted record")
	}
	if key.KeyPrefix != secret[:PrefixLen] {
		t.Fatalf("KeyPrefix = %q, want %q", key.KeyPrefix, secret[:PrefixLen])
	}
	if key.KeyHash != HashSecret(secret) {
		t.Fatal("stored hash does not match sha256 of secret")
	}
}

func TestGenerateUnknownWidget(t *testing.T) {
	svc := newTestService(newFakeStore())

	_, _, err := svc.Generate(context.Background(), "no-such-widget", "k", nil, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "Widget not found") {
		t.Fatalf("want widget not found error, got %v", err)
	}
}

func TestValidateLifecycle(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st)
	ctx := context.Background()

	secret, key, err := svc.Generate(ctx, "w1", "k", []Permission{PermissionRead}, 100, 0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// Fresh key validates for its granted permission
	v, err := svc.Validate(ctx, secret, PermissionRead)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !v.Valid {
		t.Fatalf("fresh key rejected: %+v", v)
	}

	// ...and fails for a permission outside its set
	v, _ = svc.Validate(ctx, secret, PermissionWrite)
	if v.Valid || v.Reason != ReasonInsufficientPermission {
		t.Fatalf("want insufficient_permission, got %+v", v)
	}

	// Revoke: the same secret immediately stops validating
	if err := svc.Revoke(ctx, "w1", key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	v, _ = svc.Validate(ctx, secret, PermissionRead)
	if v.Valid || v.Reason != ReasonInvalidKey {
		t.Fatalf("revoked key still validates: %+v", v)
	}
}

func TestValidateAdminWildcard(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	secret, _, _ := svc.Generate(ctx, "w1", "k", []Permission{PermissionAdmin}, 100, 0)

	for _, p := range []Permission{PermissionRead, PermissionWrite, PermissionAdmin} {
		v, _ := svc.Validate(ctx, secret, p)
		if !v.Valid {
			t.Fatalf("admin key rejected for %s: %+v", p, v)
		}
	}
}

// An expired key fails with reason expired even while is_active is still
// true, before any cleanup sweep has run.
func TestValidateExpiredBeforeSweep(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st)
	ctx := context.Background()

	secret, _, _ := svc.Generate(ctx, "w1", "k", []Permission{PermissionRead}, 100, 7)

	// Move the service clock past expiry; the stored row still says active
	svc.now = func() time.Time { return time.Now().AddDate(0, 0, 8) }

	v, _ := svc.Validate(ctx, secret, PermissionRead)
	if v.Valid || v.Reason != ReasonExpired {
		t.Fatalf("want expired, got %+v", v)
	}
	if v.Key == nil || !v.Key.IsActive {
		t.Fatal("precondition failed: key should still be marked active")
	}
}

func TestValidateGarbageSecrets(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()

	for _, secret := range []string{"", "ss_", "bearer xyz", "sk_not_ours_0123456789"} {
		v, err := svc.Validate(ctx, secret, PermissionRead)
		if err != nil {
			t.Fatalf("Validate(%q) errored: %v", secret, err)
		}
		if v.Valid || v.Reason != ReasonInvalidKey {
			t.Fatalf("Validate(%q) = %+v, want invalid_key", secret, v)
		}
	}
}

func TestCleanupExpiredKeysIdempotent(t *testing.T) {
	st := newFakeStore()
	svc := newTestService(st)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	st.keys["h1"] = &APIKey{ID: "k1", WidgetID: "w1", KeyHash: "h1", IsActive: true, ExpiresAt: &past}
	st.keys["h2"] = &APIKey{ID: "k2", WidgetID: "w1", KeyHash: "h2", IsActive: true}

	n, err := svc.CleanupExpiredKeys(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredKeys: %v", err)
	}
	if n != 1 {
		t.Fatalf("deactivated %d keys, want 1", n)
	}

	// Second sweep finds nothing left to do
	n, err = svc.CleanupExpiredKeys(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep = (%d, %v), want (0, nil)", n, err)
	}
}

func TestLogUsageSwallowsFailures(t *testing.T) {
	st := newFakeStore()
	st.usageErr = errors.New("usage table unreachable")
	svc := newTestService(st)

	// Must not panic and must not surface the error
	svc.LogUsage(context.Background(), "k1", "/render", "1.2.3.4", "ua", 200, 12)

	st.usageErr = nil
	svc.LogUsage(context.Background(), "k1", "/render", "1.2.3.4", "ua", 200, 12)
	if len(st.usage) != 1 {
		t.Fatalf("usage rows = %d, want 1", len(st.usage))
	}
	if st.usage[0].Endpoint != "/render" || st.usage[0].ResponseStatus != 200 {
		t.Fatalf("usage row mismatch: %+v", st.usage[0])
	}
}

func TestCheckRateLimitExactBoundary(t *testing.T) {
	st := newFakeStore()
	mem := cache.NewMemoryStore()
	svc := newServiceWithStore(st, mem, logger.Get())

	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	svc.now = func() time.Time { return now }
	mem.SetClock(func() time.Time { return now })

	key := &APIKey{ID: "k1", RateLimit: 3, WindowMinutes: 1}
	ctx := context.Background()

	// Exactly N requests succeed
	for i := 0; i < 3; i++ {
		rl, err := svc.CheckRateLimit(ctx, key)
		if err != nil {
			t.Fatalf("CheckRateLimit: %v", err)
		}
		if !rl.Allowed {
			t.Fatalf("request %d rejected below the limit", i+1)
		}
		if rl.Remaining != 3-(i+1) {
			t.Fatalf("Remaining = %d after request %d, want %d", rl.Remaining, i+1, 3-(i+1))
		}
	}

	// The (N+1)th in the same window is rejected
	rl, err := svc.CheckRateLimit(ctx, key)
	if err != nil {
		t.Fatalf("CheckRateLimit: %v", err)
	}
	if rl.Allowed || rl.Remaining != 0 {
		t.Fatalf("request over limit allowed: %+v", rl)
	}
	if want := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC); !rl.ResetAt.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", rl.ResetAt, want)
	}
}

// The window is fixed and epoch-aligned, not sliding. A burst that
// straddles the window boundary can spend the full limit twice inside a
// boundary-adjacent minute: N requests at 11:59:59 and N more at 12:00:00
// all succeed. This is the documented trade-off, not a bug.
func TestCheckRateLimitFixedWindowBoundaryDoubling(t *testing.T) {
	st := newFakeStore()
	mem := cache.NewMemoryStore()
	svc := newServiceWithStore(st, mem, logger.Get())

	now := time.Date(2025, 6, 1, 11, 59, 59, 0, time.UTC)
	svc.now = func() time.Time { return now }
	mem.SetClock(func() time.Time { return now })

	key := &APIKey{ID: "k1", RateLimit: 3, WindowMinutes: 1}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if rl, _ := svc.CheckRateLimit(ctx, key); !rl.Allowed {
			t.Fatalf("pre-boundary request %d rejected", i+1)
		}
	}
	if rl, _ := svc.CheckRateLimit(ctx, key); rl.Allowed {
		t.Fatal("limit not enforced inside the first window")
	}

	// One second later a fresh window opens and the full limit is
	// available again: 2x the nominal limit within two seconds.
	now = now.Add(time.Second)
	for i := 0; i < 3; i++ {
		if rl, _ := svc.CheckRateLimit(ctx, key); !rl.Allowed {
			t.Fatalf("post-boundary request %d rejected; fixed window should reset", i+1)
		}
	}
}

type failingCache struct {
	cache.Store
}

func (f failingCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestCheckRateLimitSurfacesStoreOutage(t *testing.T) {
	svc := newServiceWithStore(newFakeStore(), failingCache{}, logger.Get())

	_, err := svc.CheckRateLimit(context.Background(), &APIKey{ID: "k1", RateLimit: 3, WindowMinutes: 1})
	if err == nil {
		t.Fatal("store outage must surface as an error for the caller's policy")
	}
}
