// Package observability provides metrics collection and tracing for CLI
// sessions: HTTP attempts, token refreshes and session expiry.
package observability

import (
	"fmt"
	"sync"
	"time"
)

// RequestMetrics holds timing and status information for a single HTTP attempt.
type RequestMetrics struct {
	Method     string
	URL        string
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Error      error
}

// RefreshMetrics records one refresh flight.
type RefreshMetrics struct {
	Duration time.Duration
	Error    error
}

// SessionMetrics aggregates metrics for an entire CLI session.
type SessionMetrics struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalRequests   int
	FailedRequests  int
	Unauthorized    int
	TotalRetries    int
	Refreshes       int
	FailedRefreshes int
	SessionExpired  bool
	TotalLatency    time.Duration
}

// SessionCollector accumulates metrics across a CLI session.
// It is safe for concurrent use.
type SessionCollector struct {
	mu sync.Mutex

	startTime       time.Time
	totalRequests   int
	failedRequests  int
	unauthorized    int
	totalRetries    int
	refreshes       int
	failedRefreshes int
	sessionExpired  bool
	totalLatency    time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for an HTTP attempt.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Error != nil || m.StatusCode >= 400 {
		c.failedRequests++
	}
	if m.StatusCode == 401 {
		c.unauthorized++
	}
}

// RecordRetry records a resubmission after a refresh.
func (c *SessionCollector) RecordRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

// RecordRefresh records the outcome of a refresh flight.
func (c *SessionCollector) RecordRefresh(m RefreshMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	if m.Error != nil {
		c.failedRefreshes++
	}
}

// RecordSessionExpired notes that the session ended.
func (c *SessionCollector) RecordSessionExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionExpired = true
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:       c.startTime,
		EndTime:         time.Now(),
		TotalRequests:   c.totalRequests,
		FailedRequests:  c.failedRequests,
		Unauthorized:    c.unauthorized,
		TotalRetries:    c.totalRetries,
		Refreshes:       c.refreshes,
		FailedRefreshes: c.failedRefreshes,
		SessionExpired:  c.sessionExpired,
		TotalLatency:    c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.unauthorized = 0
	c.totalRetries = 0
	c.refreshes = 0
	c.failedRefreshes = 0
	c.sessionExpired = false
	c.totalLatency = 0
}

// ToMap converts metrics to the form carried in the output envelope's meta.
func (m SessionMetrics) ToMap() map[string]any {
	return map[string]any{
		"requests":         m.TotalRequests,
		"failed_requests":  m.FailedRequests,
		"unauthorized":     m.Unauthorized,
		"retries":          m.TotalRetries,
		"refreshes":        m.Refreshes,
		"failed_refreshes": m.FailedRefreshes,
		"session_expired":  m.SessionExpired,
		"latency_ms":       m.TotalLatency.Milliseconds(),
		"duration_ms":      m.EndTime.Sub(m.StartTime).Milliseconds(),
	}
}

// SessionMetricsFromMap is the inverse of ToMap. Numbers may arrive as int or
// as float64 after a JSON round trip.
func SessionMetricsFromMap(stats map[string]any) SessionMetrics {
	num := func(key string) int {
		switch v := stats[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return 0
	}
	expired, _ := stats["session_expired"].(bool)
	return SessionMetrics{
		TotalRequests:   num("requests"),
		FailedRequests:  num("failed_requests"),
		Unauthorized:    num("unauthorized"),
		TotalRetries:    num("retries"),
		Refreshes:       num("refreshes"),
		FailedRefreshes: num("failed_refreshes"),
		SessionExpired:  expired,
		TotalLatency:    time.Duration(num("latency_ms")) * time.Millisecond,
	}
}

// FormatParts renders the non-zero metrics as short labelled parts.
func (m SessionMetrics) FormatParts() []string {
	var parts []string
	if m.TotalRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d requests (%dms)", m.TotalRequests, m.TotalLatency.Milliseconds()))
	}
	if m.TotalRetries > 0 {
		parts = append(parts, fmt.Sprintf("%d retried", m.TotalRetries))
	}
	if m.Refreshes > 0 {
		parts = append(parts, fmt.Sprintf("%d refresh", m.Refreshes))
	}
	if m.FailedRefreshes > 0 {
		parts = append(parts, fmt.Sprintf("%d refresh failed", m.FailedRefreshes))
	}
	if m.SessionExpired {
		parts = append(parts, "session expired")
	}
	return parts
}
