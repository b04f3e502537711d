package widget

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/storyslip/storyslip-server/domain/branding"
	"github.com/storyslip/storyslip-server/domain/content"
	"github.com/storyslip/storyslip-server/pkg/apperrors"
	"github.com/storyslip/storyslip-server/pkg/cache"
	"github.com/storyslip/storyslip-server/pkg/logger"
	"github.com/storyslip/storyslip-server/pkg/monitor"
)

type fakeWidgetStore struct {
	widget  *Widget
	version time.Time
	err     error
}

func (f *fakeWidgetStore) GetPublished(_ context.Context, id string) (*Widget, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.widget == nil || f.widget.ID != id {
		return nil, nil
	}
	return f.widget, nil
}

func (f *fakeWidgetStore) ContentVersion(context.Context, string) (time.Time, error) {
	return f.version, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	pages map[int]*content.Page
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, eff content.Effective) (*content.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if page, ok := f.pages[eff.Page]; ok {
		return page, nil
	}
	return &content.Page{}, nil
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBranding struct{}

func (fakeBranding) GetByWebsiteID(_ context.Context, websiteID string) (*branding.Branding, error) {
	return branding.Default(websiteID), nil
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTracker) Track(eventType, widgetID, _ string, _ map[string]interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType+":"+widgetID)
	return true
}

func (r *recordingTracker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("cache down")
}
func (brokenCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("cache down")
}
func (brokenCache) Del(context.Context, string) error { return errors.New("cache down") }
func (brokenCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("cache down")
}
func (brokenCache) Ping(context.Context) error { return errors.New("cache down") }

type deliverFixture struct {
	store    *fakeWidgetStore
	resolver *fakeResolver
	tracker  *recordingTracker
	svc      *Service
}

func newDeliverFixture(t *testing.T, cacheStore cache.Store) *deliverFixture {
	t.Helper()
	logger.Init(logger.Config{Level: logger.LevelError, Environment: "production", Output: io.Discard})
	log := logger.Get()

	store := &fakeWidgetStore{
		widget:  testWidget(),
		version: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}
	resolver := &fakeResolver{pages: map[int]*content.Page{
		1: {Items: []content.Item{testItem("First")}, Total: 1},
	}}
	tracker := &recordingTracker{}

	svc := NewService(store, resolver, fakeBranding{}, tracker, cacheStore,
		monitor.New(log, monitor.DefaultThresholds()), log,
		5*time.Minute, time.Second)
	return &deliverFixture{store: store, resolver: resolver, tracker: tracker, svc: svc}
}

func TestDeliverRejectsInvalidPage(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())
	_, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 0}, "")

	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeInvalidPage {
		t.Fatalf("expected %s, got %v", apperrors.ErrCodeInvalidPage, err)
	}
}

func TestDeliverMissingAndUnpublishedLookIdentical(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())

	_, missingErr := fx.svc.Deliver(context.Background(), "no-such-widget", RenderParams{Page: 1}, "")

	// An unpublished widget takes the same nil path out of the store, so
	// the fake drops the row the way GetPublished filters it out.
	fx.store.widget = nil
	_, unpublishedErr := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")

	missing, ok1 := apperrors.AsAppError(missingErr)
	unpublished, ok2 := apperrors.AsAppError(unpublishedErr)
	if !ok1 || !ok2 {
		t.Fatalf("expected app errors, got %v / %v", missingErr, unpublishedErr)
	}
	if missing.Code != apperrors.ErrCodeWidgetNotFound || missing.Code != unpublished.Code ||
		missing.HTTPStatus != unpublished.HTTPStatus || missing.Message != unpublished.Message {
		t.Fatal("expected identical responses for missing and unpublished widgets")
	}
}

func TestDeliverCacheMissThenHit(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())

	first, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheStatus != CacheMiss {
		t.Fatalf("first delivery: status %s, want MISS", first.CacheStatus)
	}
	if first.Envelope.Performance.CacheHit {
		t.Fatal("first delivery should not be marked a cache hit")
	}

	second, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if second.CacheStatus != CacheHit {
		t.Fatalf("second delivery: status %s, want HIT", second.CacheStatus)
	}
	if !second.Envelope.Performance.CacheHit {
		t.Fatal("second delivery should be marked a cache hit")
	}
	if second.Envelope.HTML != first.Envelope.HTML {
		t.Fatal("cached HTML should match the rendered HTML")
	}
	if fx.resolver.callCount() != 1 {
		t.Fatalf("content resolved %d times, want 1", fx.resolver.callCount())
	}
	if second.MaxAge <= first.MaxAge {
		t.Fatal("cache hits should advertise a longer client max-age than fresh renders")
	}
}

func TestDeliverNotModifiedSkipsQueryAndRender(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())

	first, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	queriesBefore := fx.resolver.callCount()
	tracksBefore := fx.tracker.count()

	res, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, first.ETag)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NotModified {
		t.Fatal("expected 304 for a matching If-None-Match")
	}
	if res.Envelope != nil {
		t.Fatal("304 must not carry a body")
	}
	if res.ETag != first.ETag {
		t.Fatal("304 must echo the tag")
	}
	if fx.resolver.callCount() != queriesBefore {
		t.Fatal("304 must not run the content query")
	}
	if fx.tracker.count() != tracksBefore {
		t.Fatal("304 must not record a view")
	}
}

func TestDeliverETagRotatesOnContentPublish(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())

	first, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatal(err)
	}

	// New content lands: the version moves, the stale tag must stop
	// matching and the query must run again.
	fx.store.version = fx.store.version.Add(time.Minute)

	res, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, first.ETag)
	if err != nil {
		t.Fatal(err)
	}
	if res.NotModified {
		t.Fatal("expected a full response after a content change")
	}
	if res.ETag == first.ETag {
		t.Fatal("expected a new ETag after a content change")
	}
	if res.CacheStatus != CacheMiss {
		t.Fatalf("expected a render cache miss after a content change, got %s", res.CacheStatus)
	}
}

func TestDeliverETagVariesWithParams(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())

	plain, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	searched, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1, Search: "go"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if plain.ETag == searched.ETag {
		t.Fatal("expected distinct ETags for distinct query parameters")
	}
}

func TestDeliverTracksViewsOnFullResponses(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())

	if _, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, ""); err != nil {
		t.Fatal(err)
	}

	// One miss plus one hit, both full responses, both counted.
	if fx.tracker.count() != 2 {
		t.Fatalf("tracked %d views, want 2", fx.tracker.count())
	}
}

func TestDeliverSurvivesCacheOutage(t *testing.T) {
	fx := newDeliverFixture(t, brokenCache{})

	res, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatalf("public delivery must not fail on a cache outage: %v", err)
	}
	if res.CacheStatus != CacheMiss {
		t.Fatalf("expected MISS during a cache outage, got %s", res.CacheStatus)
	}
	if res.Envelope == nil || res.Envelope.HTML == "" {
		t.Fatal("expected a full render during a cache outage")
	}
}

func TestDeliverQueryTimeoutIsCollapsed(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())
	fx.resolver.err = context.DeadlineExceeded

	_, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeQueryTimeout {
		t.Fatalf("expected %s, got %v", apperrors.ErrCodeQueryTimeout, err)
	}
	if strings.Contains(appErr.Message, "timeout") || strings.Contains(appErr.Message, "deadline") {
		t.Fatalf("public message leaks internals: %q", appErr.Message)
	}
}

func TestDeliverPaginationScenario(t *testing.T) {
	fx := newDeliverFixture(t, cache.NewMemoryStore())
	fx.store.widget.Settings.ItemsPerPage = 2

	a := testItem("Alpha")
	b := testItem("Beta")
	c := testItem("Gamma")
	fx.resolver.pages = map[int]*content.Page{
		1: {Items: []content.Item{c, b}, Total: 3},
		2: {Items: []content.Item{a}, Total: 3},
		3: {Items: []content.Item{}, Total: 3},
	}

	page1, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 1}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page1.Envelope.HTML, "Gamma") || !strings.Contains(page1.Envelope.HTML, "Beta") {
		t.Fatal("page 1 should carry the two newest items")
	}
	if strings.Contains(page1.Envelope.HTML, "Alpha") {
		t.Fatal("page 1 should not carry the oldest item")
	}
	if !strings.Contains(page1.Envelope.HTML, `data-total-pages="2"`) {
		t.Fatal("3 items at 2 per page should paginate into 2 pages")
	}

	page2, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 2}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page2.Envelope.HTML, "Alpha") {
		t.Fatal("page 2 should carry the oldest item")
	}

	// Past the last page: a valid, empty response rather than an error.
	page3, err := fx.svc.Deliver(context.Background(), "wgt-1", RenderParams{Page: 3}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(page3.Envelope.HTML, "storyslip-empty") {
		t.Fatal("a page past the end should render the empty state")
	}
}
