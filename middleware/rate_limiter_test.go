package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/domain/apikey"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

func testLog() logger.Logger {
	logger.Init(logger.Config{Level: logger.LevelError, Environment: "production", Output: io.Discard})
	return logger.Get()
}

type stubLimiter struct {
	status apikey.RateLimitStatus
	err    error
}

func (s stubLimiter) CheckRateLimit(context.Context, *apikey.APIKey) (apikey.RateLimitStatus, error) {
	return s.status, s.err
}

func readKey() *apikey.APIKey {
	return &apikey.APIKey{
		ID:          "key-1",
		RateLimit:   100,
		Permissions: []string{string(apikey.PermissionRead)},
		IsActive:    true,
	}
}

func writeKey() *apikey.APIKey {
	k := readKey()
	k.Permissions = []string{string(apikey.PermissionWrite)}
	return k
}

func invokeLimiter(t *testing.T, mw echo.MiddlewareFunc, key *apikey.APIKey) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/widgets/public/w-1/render", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if key != nil {
		c.Set(ContextKeyAPIKey, key)
	}

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return rec, handler(c)
}

func TestKeyRateLimitAllowsUnderBudget(t *testing.T) {
	mw := KeyRateLimit(stubLimiter{status: apikey.RateLimitStatus{
		Allowed:   true,
		Remaining: 41,
		ResetAt:   time.Now().Add(30 * time.Second),
	}}, testLog())

	rec, err := invokeLimiter(t, mw, readKey())
	if err != nil {
		t.Fatalf("expected pass-through, got %v", err)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "41" {
		t.Fatalf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "100" {
		t.Fatalf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestKeyRateLimitRejectsOverBudget(t *testing.T) {
	reset := time.Now().Add(45 * time.Second)
	mw := KeyRateLimit(stubLimiter{status: apikey.RateLimitStatus{
		Allowed: false,
		ResetAt: reset,
	}}, testLog())

	rec, err := invokeLimiter(t, mw, readKey())
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeRateLimitExceeded {
		t.Fatalf("expected %s, got %v", apperrors.ErrCodeRateLimitExceeded, err)
	}
	if appErr.HTTPStatus != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", appErr.HTTPStatus)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After on a 429")
	}
}

func TestKeyRateLimitOutageFailsOpenForReadKeys(t *testing.T) {
	mw := KeyRateLimit(stubLimiter{err: errors.New("redis down")}, testLog())

	if _, err := invokeLimiter(t, mw, readKey()); err != nil {
		t.Fatalf("read-only key must pass during a store outage, got %v", err)
	}
}

func TestKeyRateLimitOutageFailsClosedForWriteKeys(t *testing.T) {
	mw := KeyRateLimit(stubLimiter{err: errors.New("redis down")}, testLog())

	_, err := invokeLimiter(t, mw, writeKey())
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeRateLimitUnavailable {
		t.Fatalf("expected %s, got %v", apperrors.ErrCodeRateLimitUnavailable, err)
	}
	if appErr.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", appErr.HTTPStatus)
	}
}

func TestKeyRateLimitOutageFailsClosedForAdminKeys(t *testing.T) {
	key := readKey()
	key.Permissions = []string{string(apikey.PermissionAdmin)}
	mw := KeyRateLimit(stubLimiter{err: errors.New("redis down")}, testLog())

	_, err := invokeLimiter(t, mw, key)
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeRateLimitUnavailable {
		t.Fatalf("admin keys must fail closed, got %v", err)
	}
}

func TestKeyRateLimitWithoutKeyRejects(t *testing.T) {
	mw := KeyRateLimit(stubLimiter{}, testLog())

	_, err := invokeLimiter(t, mw, nil)
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeMissingAPIKey {
		t.Fatalf("expected %s, got %v", apperrors.ErrCodeMissingAPIKey, err)
	}
}

func TestIPRateLimitCountsPerIP(t *testing.T) {
	store := cache.NewMemoryStore()
	mw := IPRateLimit(store, 3, time.Minute, testLog())

	e := echo.New()
	call := func(ip string) error {
		req := httptest.NewRequest(http.MethodGet, "/embed/widget.js", nil)
		req.RemoteAddr = ip + ":4321"
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		return mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	}

	for i := 0; i < 3; i++ {
		if err := call("10.0.0.1"); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}

	err := call("10.0.0.1")
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeRateLimitExceeded {
		t.Fatalf("fourth request should be limited, got %v", err)
	}

	// A different client still has its own budget.
	if err := call("10.0.0.2"); err != nil {
		t.Fatalf("unrelated IP should pass: %v", err)
	}
}

func TestIPRateLimitFailsOpenOnOutage(t *testing.T) {
	mw := IPRateLimit(downCache{}, 1, time.Minute, testLog())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/embed/widget.js", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c); err != nil {
		t.Fatalf("public path must fail open, got %v", err)
	}
}

type downCache struct{}

func (downCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}
func (downCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("down")
}
func (downCache) Del(context.Context, string) error { return errors.New("down") }
func (downCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("down")
}
func (downCache) Ping(context.Context) error { return errors.New("down") }
