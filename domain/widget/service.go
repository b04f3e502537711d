package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/storyslip/storyslip-server/domain/branding"
	"github.com/storyslip/storyslip-server/domain/content"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
	"github.com/storyslip/storyslip-server/pkg/monitor"
)

// Cache status values surfaced in the X-Cache-Status header.
const (
	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

type widgetStore interface {
	GetPublished(ctx context.Context, id string) (*Widget, error)
	ContentVersion(ctx context.Context, websiteID string) (time.Time, error)
}

type contentResolver interface {
	Resolve(ctx context.Context, eff content.Effective) (*content.Page, error)
}

type brandingStore interface {
	GetByWebsiteID(ctx context.Context, websiteID string) (*branding.Branding, error)
}

// eventTracker records analytics events without blocking the request.
type eventTracker interface {
	Track(eventType, widgetID, websiteID string, data map[string]interface{}) bool
}

// DeliverResult is one public render response plus its caching envelope.
type DeliverResult struct {
	Envelope    *Envelope
	ETag        string
	NotModified bool
	CacheStatus string
	MaxAge      time.Duration
}

// Service orchestrates public widget delivery: lookup, filter merge,
// content resolution, rendering, response memoization, and conditional
// requests.
type Service struct {
	widgets  widgetStore
	content  contentResolver
	branding brandingStore
	tracker  eventTracker
	cache    cache.Store
	mon      *monitor.Monitor
	log      logger.Logger

	cacheTTL     time.Duration
	queryTimeout time.Duration
	now          func() time.Time
}

func NewService(widgets widgetStore, resolver contentResolver, brandingSt brandingStore, tracker eventTracker, cacheStore cache.Store, mon *monitor.Monitor, log logger.Logger, cacheTTL, queryTimeout time.Duration) *Service {
	return &Service{
		widgets:      widgets,
		content:      resolver,
		branding:     brandingSt,
		tracker:      tracker,
		cache:        cacheStore,
		mon:          mon,
		log:          log,
		cacheTTL:     cacheTTL,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
}

// Deliver produces the render response for one public request.
//
// The ETag covers the widget version and the website's latest content
// change, so publishing new content rotates the tag. When If-None-Match
// matches, the content query and render are skipped entirely. Cache
// outages degrade to a full render; they never fail the public surface.
func (s *Service) Deliver(ctx context.Context, widgetID string, params RenderParams, ifNoneMatch string) (*DeliverResult, error) {
	if params.Page < 1 {
		return nil, apperrors.NewBadRequest(apperrors.ErrCodeInvalidPage, "page must be a positive integer")
	}

	w, err := s.widgets.GetPublished(ctx, widgetID)
	if err != nil {
		s.mon.ReportError("widget_lookup", err)
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load widget", err)
	}
	if w == nil {
		// Missing and unpublished widgets share this path and this
		// response shape.
		return nil, apperrors.NewNotFound(apperrors.ErrCodeWidgetNotFound, "widget not found")
	}

	version, err := s.widgets.ContentVersion(ctx, w.WebsiteID)
	if err != nil {
		s.mon.ReportError("content_version", err)
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load widget", err)
	}

	eff := content.Merge(w.ContentFilters(), params.overrides())
	paramsHash := cache.HashParams(
		eff.Search,
		eff.RequestCategory,
		eff.RequestTag,
		eff.RequestAuthor,
		eff.SortBy,
		eff.SortOrder,
		strconv.Itoa(eff.ItemsPerPage),
		w.UpdatedAt.UTC().Format(time.RFC3339Nano),
		version.UTC().Format(time.RFC3339Nano),
	)

	etag := fmt.Sprintf(`W/"%s"`, cache.HashParams(widgetID, strconv.Itoa(eff.Page), paramsHash))
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return &DeliverResult{ETag: etag, NotModified: true, MaxAge: s.cacheTTL}, nil
	}

	// The version fields are part of the key, so entries written before a
	// widget update or content publish simply stop being addressed and
	// age out on their TTL.
	renderKey := cache.RenderKey(widgetID, eff.Page, paramsHash)
	if cached, ok, cerr := s.cache.Get(ctx, renderKey); cerr != nil {
		s.log.Warn("render cache read failed", logger.Err(cerr), logger.WidgetID(widgetID))
	} else if ok {
		var env Envelope
		if uerr := json.Unmarshal([]byte(cached), &env); uerr == nil {
			env.Performance.CacheHit = true
			s.track(w, eff)
			// A hot entry earns the full TTL on the client side too.
			return &DeliverResult{
				Envelope:    &env,
				ETag:        etag,
				CacheStatus: CacheHit,
				MaxAge:      s.cacheTTL,
			}, nil
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	queryStart := s.now()
	page, err := s.content.Resolve(queryCtx, eff)
	queryTime := s.now().Sub(queryStart)
	if err != nil {
		s.mon.ReportError("content_query", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.NewInternal(apperrors.ErrCodeQueryTimeout, "failed to load widget content", err)
		}
		return nil, apperrors.NewInternal(apperrors.ErrCodeDatabaseError, "failed to load widget content", err)
	}

	b, err := s.branding.GetByWebsiteID(ctx, w.WebsiteID)
	if err != nil {
		// Branding failures degrade to defaults rather than failing the
		// whole render.
		s.log.Warn("branding lookup failed", logger.Err(err), logger.WebsiteID(w.WebsiteID))
		b = branding.Default(w.WebsiteID)
	}

	renderStart := s.now()
	result := Render(w, ContentPage{
		Items:   page.Items,
		Total:   page.Total,
		Page:    eff.Page,
		PerPage: eff.ItemsPerPage,
	}, b)
	renderTime := s.now().Sub(renderStart)

	env := &Envelope{
		HTML:     result.HTML,
		CSS:      result.CSS,
		JS:       result.JS,
		Metadata: result.Metadata,
		Performance: Performance{
			CacheHit:     false,
			RenderTimeMs: renderTime.Milliseconds(),
			QueryTimeMs:  queryTime.Milliseconds(),
		},
	}

	if body, merr := json.Marshal(env); merr == nil {
		if cerr := s.cache.Set(ctx, renderKey, string(body), s.cacheTTL); cerr != nil {
			s.log.Warn("render cache write failed", logger.Err(cerr), logger.WidgetID(widgetID))
		}
	}

	s.track(w, eff)

	// Fresh renders get a shorter client max-age than hits, so edge caches
	// revalidate cold content sooner.
	return &DeliverResult{
		Envelope:    env,
		ETag:        etag,
		CacheStatus: CacheMiss,
		MaxAge:      s.cacheTTL / 2,
	}, nil
}

// track records a widget_view for every delivered response body. 304s do
// not reach here; the embed script already has the content.
func (s *Service) track(w *Widget, eff content.Effective) {
	if s.tracker == nil {
		return
	}
	s.tracker.Track("widget_view", w.ID, w.WebsiteID, map[string]interface{}{
		"page":   eff.Page,
		"search": eff.Search != "",
	})
}
