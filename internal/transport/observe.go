package transport

import (
	"context"
	"net/http"
	"time"
)

// RequestInfo describes one outgoing attempt.
type RequestInfo struct {
	Method    string
	URL       string
	Attempt   int
	RequestID string
}

// RequestResult describes how an attempt ended.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// Hooks receives request lifecycle events.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRetry(ctx context.Context, info RequestInfo, attempt int, err error)
}

// Observe reports every attempt to hooks. Resubmissions after a refresh are
// additionally reported through OnRetry.
func Observe(hooks Hooks) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if hooks == nil {
			return next
		}
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			info := RequestInfo{
				Method:    req.Method,
				URL:       req.URL.String(),
				Attempt:   Attempt(req),
				RequestID: req.Header.Get(HeaderRequestID),
			}
			ctx := req.Context()
			if info.Attempt > 1 {
				hooks.OnRetry(ctx, info, info.Attempt, nil)
			}

			ctx = hooks.OnRequestStart(ctx, info)
			if ctx != req.Context() {
				req = req.WithContext(ctx)
			}

			start := time.Now()
			resp, err := next.RoundTrip(req)
			result := RequestResult{Duration: time.Since(start), Error: err}
			if resp != nil {
				result.StatusCode = resp.StatusCode
			}
			hooks.OnRequestEnd(ctx, info, result)
			return resp, err
		})
	}
}
