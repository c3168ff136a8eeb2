package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/digitalsociety/egov-cli/internal/transport"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"access":        true,
	"refresh":       true,
	"token":         true,
	"password":      true,
	"secret":        true,
	"csrftoken":     true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET /api/user_groups/
func (t *TraceWriter) WriteRequestStart(info transport.RequestInfo) {
	t.printf("  -> %s %s", info.Method, scrubURL(info.URL))
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 200 (45ms)
func (t *TraceWriter) WriteRequestEnd(_ transport.RequestInfo, result transport.RequestResult) {
	if result.Error != nil {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
}

// WriteRetry writes a resubmission trace line.
// Format: [0.234s]   RETRY #2 with refreshed token
func (t *TraceWriter) WriteRetry(_ transport.RequestInfo, attempt int) {
	t.printf("  RETRY #%d with refreshed token", attempt)
}

// WriteRefreshStart writes a refresh start trace line.
func (t *TraceWriter) WriteRefreshStart() {
	t.printf("Refreshing access token")
}

// WriteRefreshEnd writes a refresh outcome trace line.
func (t *TraceWriter) WriteRefreshEnd(err error, duration time.Duration) {
	if err != nil {
		t.printf("Refresh failed: %v", err)
		return
	}
	t.printf("Refreshed access token (%dms)", duration.Milliseconds())
}

// WriteNavigate writes a navigation trace line.
func (t *TraceWriter) WriteNavigate(target string) {
	t.printf("Navigate %s", target)
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
