package transport

import (
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID carries a per-attempt correlation id.
const HeaderRequestID = "X-Request-ID"

// RequestID stamps each outgoing attempt with a fresh UUID unless the caller
// already set one.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(HeaderRequestID) != "" {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set(HeaderRequestID, uuid.NewString())
			return next.RoundTrip(out)
		})
	}
}
