// Package transport is the authenticated request pipeline: a chain of
// http.RoundTripper stages that attach credentials, observe traffic and
// recover from expired access tokens.
package transport

import (
	"context"
	"net/http"
)

// Middleware wraps a RoundTripper.
type Middleware func(next http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain builds a RoundTripper from base and stages. The first stage is the
// outermost: it sees the request first and the response last.
func Chain(base http.RoundTripper, stages ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(stages) - 1; i >= 0; i-- {
		rt = stages[i](rt)
	}
	return rt
}

type retryKey struct{}

// WithRetry marks requests made with ctx as a resubmission after a refresh.
// A marked request is never refreshed again.
func WithRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// IsRetry reports whether req is a resubmission.
func IsRetry(req *http.Request) bool {
	v, _ := req.Context().Value(retryKey{}).(bool)
	return v
}

// Attempt returns 1 for an original request and 2 for a resubmission.
func Attempt(req *http.Request) int {
	if IsRetry(req) {
		return 2
	}
	return 1
}
