package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/storyslip/storyslip-server/pkg/logger"
)

// AlertLevel classifies a threshold crossing.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert records a single threshold crossing. Alerts are kept in a bounded
// ring: once the buffer is full the oldest alert is evicted. There is no
// dedup by identity; the same condition firing twice appends twice.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Metric    string     `json:"metric"`
	Message   string     `json:"message"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	At        time.Time  `json:"at"`
}

// Snapshot is a periodic sample of process health. Goroutine count and GC
// pause stand in for CPU and event-loop-delay style signals.
type Snapshot struct {
	At            time.Time `json:"at"`
	NumGoroutine  int       `json:"num_goroutine"`
	HeapAllocMB   float64   `json:"heap_alloc_mb"`
	HeapSysMB     float64   `json:"heap_sys_mb"`
	NumGC         uint32    `json:"num_gc"`
	LastGCPauseMs float64   `json:"last_gc_pause_ms"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// RouteStats aggregates request timings per route.
type RouteStats struct {
	Count      int64   `json:"count"`
	ErrorCount int64   `json:"error_count"`
	TotalMs    int64   `json:"total_ms"`
	MaxMs      int64   `json:"max_ms"`
	AvgMs      float64 `json:"avg_ms"`
}

// Thresholds configures when alerts fire.
type Thresholds struct {
	GoroutineWarn     int
	GoroutineCritical int
	HeapWarnMB        float64
	HeapCriticalMB    float64
	ResponseWarn      time.Duration
	ResponseCritical  time.Duration
}

// DefaultThresholds returns production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GoroutineWarn:     2000,
		GoroutineCritical: 10000,
		HeapWarnMB:        512,
		HeapCriticalMB:    1024,
		ResponseWarn:      500 * time.Millisecond,
		ResponseCritical:  2 * time.Second,
	}
}

const (
	defaultAlertCap    = 100
	defaultSnapshotCap = 60
)

// Monitor collects request timings, periodic system snapshots, and
// threshold alerts. It is read-only to the admin handlers and must never
// block or fail the request path it observes.
type Monitor struct {
	mu          sync.Mutex
	thresholds  Thresholds
	alerts      []Alert
	alertCap    int
	snapshots   []Snapshot
	snapshotCap int
	routes      map[string]*RouteStats
	start       time.Time
	log         logger.Logger
}

func New(log logger.Logger, thresholds Thresholds) *Monitor {
	return &Monitor{
		thresholds:  thresholds,
		alertCap:    defaultAlertCap,
		snapshotCap: defaultSnapshotCap,
		routes:      make(map[string]*RouteStats),
		start:       time.Now(),
		log:         log.WithComponent("monitor"),
	}
}

// RecordRequest adds one request observation and raises response-time
// alerts when the duration crosses a threshold.
func (m *Monitor) RecordRequest(route string, status int, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.routes[route]
	if !ok {
		st = &RouteStats{}
		m.routes[route] = st
	}
	st.Count++
	if status >= 500 {
		st.ErrorCount++
	}
	ms := dur.Milliseconds()
	st.TotalMs += ms
	if ms > st.MaxMs {
		st.MaxMs = ms
	}

	if m.thresholds.ResponseCritical > 0 && dur >= m.thresholds.ResponseCritical {
		m.appendAlert(Alert{
			Level:     AlertCritical,
			Metric:    "response_time",
			Message:   fmt.Sprintf("slow response on %s", route),
			Value:     float64(ms),
			Threshold: float64(m.thresholds.ResponseCritical.Milliseconds()),
			At:        time.Now(),
		})
	} else if m.thresholds.ResponseWarn > 0 && dur >= m.thresholds.ResponseWarn {
		m.appendAlert(Alert{
			Level:     AlertWarning,
			Metric:    "response_time",
			Message:   fmt.Sprintf("slow response on %s", route),
			Value:     float64(ms),
			Threshold: float64(m.thresholds.ResponseWarn.Milliseconds()),
			At:        time.Now(),
		})
	}
}

// ReportError routes a suppressed internal error into the sink so the
// public caller can keep receiving a generic message.
func (m *Monitor) ReportError(component string, err error) {
	if err == nil {
		return
	}
	m.log.Error("Internal error reported", err, logger.Component(component))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAlert(Alert{
		Level:   AlertWarning,
		Metric:  "internal_error",
		Message: fmt.Sprintf("%s: %v", component, err),
		At:      time.Now(),
	})
}

// StartSnapshots samples system metrics every interval until ctx is done.
func (m *Monitor) StartSnapshots(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.snapshotOnce()
			}
		}
	}()
}

func (m *Monitor) snapshotOnce() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := Snapshot{
		At:            time.Now(),
		NumGoroutine:  runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
		HeapSysMB:     float64(ms.HeapSys) / (1 << 20),
		NumGC:         ms.NumGC,
		UptimeSeconds: time.Since(m.start).Seconds(),
	}
	if ms.NumGC > 0 {
		snap.LastGCPauseMs = float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = append(m.snapshots, snap)
	if len(m.snapshots) > m.snapshotCap {
		m.snapshots = m.snapshots[len(m.snapshots)-m.snapshotCap:]
	}

	m.checkSnapshotThresholds(snap)
}

func (m *Monitor) checkSnapshotThresholds(snap Snapshot) {
	if m.thresholds.GoroutineCritical > 0 && snap.NumGoroutine >= m.thresholds.GoroutineCritical {
		m.appendAlert(Alert{
			Level: AlertCritical, Metric: "goroutines",
			Message:   "goroutine count critical",
			Value:     float64(snap.NumGoroutine),
			Threshold: float64(m.thresholds.GoroutineCritical),
			At:        snap.At,
		})
	} else if m.thresholds.GoroutineWarn > 0 && snap.NumGoroutine >= m.thresholds.GoroutineWarn {
		m.appendAlert(Alert{
			Level: AlertWarning, Metric: "goroutines",
			Message:   "goroutine count elevated",
			Value:     float64(snap.NumGoroutine),
			Threshold: float64(m.thresholds.GoroutineWarn),
			At:        snap.At,
		})
	}

	if m.thresholds.HeapCriticalMB > 0 && snap.HeapAllocMB >= m.thresholds.HeapCriticalMB {
		m.appendAlert(Alert{
			Level: AlertCritical, Metric: "heap",
			Message:   "heap allocation critical",
			Value:     snap.HeapAllocMB,
			Threshold: m.thresholds.HeapCriticalMB,
			At:        snap.At,
		})
	} else if m.thresholds.HeapWarnMB > 0 && snap.HeapAllocMB >= m.thresholds.HeapWarnMB {
		m.appendAlert(Alert{
			Level: AlertWarning, Metric: "heap",
			Message:   "heap allocation elevated",
			Value:     snap.HeapAllocMB,
			Threshold: m.thresholds.HeapWarnMB,
			At:        snap.At,
		})
	}
}

// appendAlert must be called with m.mu held.
func (m *Monitor) appendAlert(a Alert) {
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.alertCap {
		m.alerts = m.alerts[len(m.alerts)-m.alertCap:]
	}
	if a.Level == AlertCritical {
		m.log.Warn("Critical alert raised",
			logger.String("metric", a.Metric),
			logger.String("message", a.Message),
		)
	}
}

// Alerts returns a copy of the retained alerts, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Snapshots returns a copy of the retained system snapshots, oldest first.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// Stats returns per-route request statistics.
func (m *Monitor) Stats() map[string]RouteStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]RouteStats, len(m.routes))
	for route, st := range m.routes {
		s := *st
		if s.Count > 0 {
			s.AvgMs = float64(s.TotalMs) / float64(s.Count)
		}
		out[route] = s
	}
	return out
}

// Middleware records timing for every request passing through Echo.
func (m *Monitor) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			m.RecordRequest(c.Path(), c.Response().Status, time.Since(start))
			return err
		}
	}
}
