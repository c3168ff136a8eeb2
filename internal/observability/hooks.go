package observability

import (
	"context"
	"sync"
	"time"

	"github.com/digitalsociety/egov-cli/internal/transport"
)

// Verify CLIHooks implements transport.Hooks at compile time.
var _ transport.Hooks = (*CLIHooks)(nil)

// CLIHooks observes the request pipeline for the CLI.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Session events (refreshes, expiry)
//   - 2: Session events + every HTTP attempt
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnRequestStart is called before an HTTP attempt is sent.
func (h *CLIHooks) OnRequestStart(ctx context.Context, info transport.RequestInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after an HTTP attempt completes.
func (h *CLIHooks) OnRequestEnd(_ context.Context, info transport.RequestInfo, result transport.RequestResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRequest(RequestMetrics{
			Method:     info.Method,
			URL:        info.URL,
			Attempt:    info.Attempt,
			StatusCode: result.StatusCode,
			Duration:   result.Duration,
			Error:      result.Error,
		})
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}

// OnRetry is called before a request is resubmitted after a refresh.
func (h *CLIHooks) OnRetry(_ context.Context, info transport.RequestInfo, attempt int, _ error) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRetry()
	}
	if level >= 2 && writer != nil {
		writer.WriteRetry(info, attempt)
	}
}

// OnRefreshStart is called when a refresh flight begins. Together with
// OnRefreshEnd it satisfies auth.Hooks.
func (h *CLIHooks) OnRefreshStart(context.Context) {
	level, _, writer := h.snapshot()
	if level >= 1 && writer != nil {
		writer.WriteRefreshStart()
	}
}

// OnRefreshEnd is called when a refresh flight resolves.
func (h *CLIHooks) OnRefreshEnd(_ context.Context, err error, duration time.Duration) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRefresh(RefreshMetrics{Duration: duration, Error: err})
	}
	if level >= 1 && writer != nil {
		writer.WriteRefreshEnd(err, duration)
	}
}

// Navigator wraps next so navigations are traced and counted.
func (h *CLIHooks) Navigator(next transport.Navigator) transport.Navigator {
	return transport.NavigatorFunc(func(ctx context.Context, target string) {
		level, collector, writer := h.snapshot()
		if _, expired := transport.ConsumeSessionExpired(target); expired && collector != nil {
			collector.RecordSessionExpired()
		}
		if level >= 1 && writer != nil {
			writer.WriteNavigate(target)
		}
		if next != nil {
			next.Navigate(ctx, target)
		}
	})
}
