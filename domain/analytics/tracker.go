package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

// Event is one analytics record produced by the delivery path or the
// public track beacon.
type Event struct {
	EventType  string
	WidgetID   string
	WebsiteID  string
	Data       map[string]interface{}
	IP         string
	UserAgent  string
	OccurredAt time.Time
}

// Sink persists events. Implementations may batch internally.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Tracker decouples analytics writes from request latency: Track enqueues
// onto a bounded buffer and a single worker drains it. When the buffer is
// full the event is dropped and Track reports false; the request path
// never blocks on analytics.
type Tracker struct {
	sink Sink
	log  logger.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once
	now    func() time.Time

	mu      sync.Mutex
	dropped int64
}

const defaultBufferSize = 1024

func NewTracker(sink Sink, log logger.Logger, bufferSize int) *Tracker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	t := &Tracker{
		sink:   sink,
		log:    log,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go t.run()
	return t
}

// Track enqueues an event. Returns false when the buffer is full and the
// event was dropped. The reserved data keys "ip" and "user_agent" are
// lifted into their own columns.
func (t *Tracker) Track(eventType, widgetID, websiteID string, data map[string]interface{}) bool {
	e := Event{
		EventType:  eventType,
		WidgetID:   widgetID,
		WebsiteID:  websiteID,
		Data:       data,
		OccurredAt: t.now(),
	}
	if ip, ok := data["ip"].(string); ok {
		e.IP = ip
		delete(data, "ip")
	}
	if ua, ok := data["user_agent"].(string); ok {
		e.UserAgent = ua
		delete(data, "user_agent")
	}
	select {
	case t.events <- e:
		return true
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		return false
	}
}

// Dropped returns how many events were discarded on a full buffer.
func (t *Tracker) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close stops intake, drains the remaining buffered events, and waits for
// the worker to finish.
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.events)
		<-t.done
	})
}

func (t *Tracker) run() {
	defer close(t.done)
	for e := range t.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.sink.Write(ctx, e); err != nil {
			t.log.Warn("analytics write failed",
				logger.Err(err),
				logger.WidgetID(e.WidgetID),
				logger.EventType(e.EventType))
		}
		cancel()
	}
}

// SQLSink persists events in the widget_analytics table.
type SQLSink struct {
	db *sqlx.DB
}

func NewSQLSink(db *sqlx.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Write(ctx context.Context, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		data = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO widget_analytics (widget_id, website_id, event_type, event_data, ip_address, user_agent, occurred_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		e.WidgetID, e.WebsiteID, e.EventType, data, e.IP, e.UserAgent, e.OccurredAt)
	return err
}
