package transport

import (
	"context"
	"log/slog"
	"net/http"
)

// Header names set by the augmenter.
const (
	HeaderAuthorization = "Authorization"
	HeaderCSRFToken     = "X-CSRFToken"
)

// TokenSource yields the current access token, or "" when there is none.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// AugmentOptions configures the Augment stage.
type AugmentOptions struct {
	// CSRFToken is sent as X-CSRFToken when non-empty.
	CSRFToken string
	Logger    *slog.Logger
}

// Augment attaches "Authorization: Bearer <token>" when a token is stored and
// the anti-forgery header when one is configured. It never fails a request:
// a store that cannot be read is treated as holding no token.
func Augment(tokens TokenSource, opts AugmentOptions) Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			token, err := tokens.AccessToken(req.Context())
			if err != nil {
				logger.Debug("access token unavailable", "error", err)
				token = ""
			}
			if token == "" && opts.CSRFToken == "" {
				return next.RoundTrip(req)
			}

			out := req.Clone(req.Context())
			if token != "" {
				out.Header.Set(HeaderAuthorization, "Bearer "+token)
			}
			if opts.CSRFToken != "" {
				out.Header.Set(HeaderCSRFToken, opts.CSRFToken)
			}
			return next.RoundTrip(out)
		})
	}
}
