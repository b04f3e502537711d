package widget

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

func newHandlerFixture(t *testing.T) (*Handler, *deliverFixture) {
	t.Helper()
	fx := newDeliverFixture(t, cache.NewMemoryStore())
	h := NewHandler(fx.svc, nil, fx.tracker, logger.Get())
	return h, fx
}

func doRender(t *testing.T, h *Handler, query, ifNoneMatch string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/widgets/public/wgt-1/render"+query, nil)
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/widgets/public/:widget_id/render")
	c.SetParamNames("widget_id")
	c.SetParamValues("wgt-1")
	return rec, h.RenderHandler(c)
}

func TestRenderHandlerJSONResponse(t *testing.T) {
	h, _ := newHandlerFixture(t)

	rec, err := doRender(t, h, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	header := rec.Header()
	if !strings.HasPrefix(header.Get("ETag"), `W/"`) {
		t.Fatalf("ETag = %q, want a weak tag", header.Get("ETag"))
	}
	if !strings.HasPrefix(header.Get("Cache-Control"), "public, max-age=") {
		t.Fatalf("Cache-Control = %q", header.Get("Cache-Control"))
	}
	if header.Get("X-Cache-Status") != CacheMiss {
		t.Fatalf("X-Cache-Status = %q, want MISS", header.Get("X-Cache-Status"))
	}
	if header.Get("X-Render-Time") == "" {
		t.Fatal("expected X-Render-Time header")
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			HTML string `json:"html"`
			CSS  string `json:"css"`
			JS   string `json:"js"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || body.Data.HTML == "" || body.Data.CSS == "" || body.Data.JS == "" {
		t.Fatal("expected a full envelope in the response body")
	}
}

func TestRenderHandlerNotModified(t *testing.T) {
	h, _ := newHandlerFixture(t)

	first, err := doRender(t, h, "", "")
	if err != nil {
		t.Fatal(err)
	}

	second, err := doRender(t, h, "", first.Header().Get("ETag"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", second.Code)
	}
	if second.Body.Len() != 0 {
		t.Fatal("304 must have an empty body")
	}
	if second.Header().Get("ETag") != first.Header().Get("ETag") {
		t.Fatal("304 must echo the ETag")
	}
}

func TestRenderHandlerRejectsBadPage(t *testing.T) {
	h, _ := newHandlerFixture(t)

	for _, query := range []string{"?page=0", "?page=-3", "?page=abc"} {
		_, err := doRender(t, h, query, "")
		appErr, ok := apperrors.AsAppError(err)
		if !ok || appErr.Code != apperrors.ErrCodeInvalidPage {
			t.Errorf("query %s: expected %s, got %v", query, apperrors.ErrCodeInvalidPage, err)
		}
	}
}

func TestRenderHandlerHTMLFormat(t *testing.T) {
	h, _ := newHandlerFixture(t)

	rec, err := doRender(t, h, "?format=html", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentType), "text/html") {
		t.Fatalf("Content-Type = %q", rec.Header().Get(echo.HeaderContentType))
	}
	doc := rec.Body.String()
	if !strings.HasPrefix(doc, "<!DOCTYPE html>") {
		t.Fatal("expected a standalone document")
	}
	if !strings.Contains(doc, "storyslip-widget") {
		t.Fatal("expected the widget markup inside the document")
	}
}

func TestTrackHandlerAlwaysSuccessShaped(t *testing.T) {
	h, fx := newHandlerFixture(t)
	e := echo.New()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/widgets/public/wgt-1/track", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("widget_id")
		c.SetParamValues("wgt-1")
		if err := h.TrackHandler(c); err != nil {
			t.Fatalf("track must never error: %v", err)
		}
		return rec
	}

	good := post(`{"event_type":"widget_click","event_data":{"slug":"welcome"}}`)
	if good.Code != http.StatusOK || !strings.Contains(good.Body.String(), `"success":true`) {
		t.Fatalf("valid beacon: %d %s", good.Code, good.Body.String())
	}
	if fx.tracker.count() != 1 {
		t.Fatalf("tracked %d events, want 1", fx.tracker.count())
	}

	// Garbage payloads still answer success so embeds never surface errors.
	bad := post(`{not json`)
	if bad.Code != http.StatusOK || !strings.Contains(bad.Body.String(), `"success":true`) {
		t.Fatalf("malformed beacon: %d %s", bad.Code, bad.Body.String())
	}
}

func TestScriptHandlerCachesWithETag(t *testing.T) {
	h, _ := newHandlerFixture(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/embed/widget.js", nil)
	rec := httptest.NewRecorder()
	if err := h.ScriptHandler(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentType), "javascript") {
		t.Fatalf("Content-Type = %q", rec.Header().Get(echo.HeaderContentType))
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=86400" {
		t.Fatalf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/embed/widget.js", nil)
	req2.Header.Set("If-None-Match", etag)
	rec2 := httptest.NewRecorder()
	if err := h.ScriptHandler(e.NewContext(req2, rec2)); err != nil {
		t.Fatal(err)
	}
	if rec2.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec2.Code)
	}
}
