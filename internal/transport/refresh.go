package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Token endpoint paths whose 401s are answers, not expired sessions.
const (
	refreshEndpoint = "/api/token/refresh/"
	loginEndpoint   = "/api/token/"
)

// Refresher obtains a new access token, sharing one refresh between
// concurrent callers.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// FailureState reports whether a refresh has already failed for the session.
type FailureState interface {
	RefreshFailed(ctx context.Context) (bool, error)
}

// RefreshOptions configures RefreshOnUnauthorized.
type RefreshOptions struct {
	Navigator Navigator
	Logger    *slog.Logger
}

// RefreshOnUnauthorized recovers from 401 responses. The first 401 for a
// request triggers a refresh; on success the request is resubmitted once
// through the rest of the chain, so it is re-augmented with the new token, and
// that response is final. When the refresh fails the navigator is sent to
// SessionExpiredURL and the original 401 is returned.
//
// A 401 is returned unchanged when it comes from a token endpoint, when the
// request is already a resubmission, when a refresh has already failed, or
// when the request body cannot be replayed.
//
// When state also implements TokenSource and the 401 answered a token that has
// since been replaced, the request is resubmitted with the stored token
// without another refresh.
func RefreshOnUnauthorized(refresher Refresher, state FailureState, opts RefreshOptions) Middleware {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tokens, _ := state.(TokenSource)

	return func(next http.RoundTripper) http.RoundTripper {
		return &refreshTransport{
			next:      next,
			refresher: refresher,
			state:     state,
			tokens:    tokens,
			navigator: opts.Navigator,
			logger:    logger,
		}
	}
}

type refreshTransport struct {
	next      http.RoundTripper
	refresher Refresher
	state     FailureState
	tokens    TokenSource
	navigator Navigator
	logger    *slog.Logger
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if isTokenEndpoint(req) || IsRetry(req) {
		return resp, nil
	}

	ctx := req.Context()
	failed, err := t.state.RefreshFailed(ctx)
	if err != nil {
		t.logger.Debug("refresh state unavailable", "error", err)
		return resp, nil
	}
	if failed {
		return resp, nil
	}

	retry, ok := t.replayable(req)
	if !ok {
		t.logger.Debug("401 on request with a body that cannot be replayed", "url", req.URL.Redacted())
		return resp, nil
	}

	if t.superseded(ctx, resp) {
		t.logger.Debug("access token already refreshed", "url", req.URL.Redacted())
		discard(resp)
		return t.next.RoundTrip(retry)
	}

	if _, err := t.refresher.Refresh(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			discard(resp)
			return nil, err
		}
		t.logger.Debug("session expired", "error", err)
		if t.navigator != nil {
			t.navigator.Navigate(ctx, SessionExpiredURL)
		}
		return resp, nil
	}

	discard(resp)
	return t.next.RoundTrip(retry)
}

// superseded reports whether resp rejected an access token that is no longer
// the stored one, i.e. another request refreshed it in the meantime.
func (t *refreshTransport) superseded(ctx context.Context, resp *http.Response) bool {
	if t.tokens == nil || resp.Request == nil {
		return false
	}
	sent, ok := strings.CutPrefix(resp.Request.Header.Get(HeaderAuthorization), "Bearer ")
	if !ok || sent == "" {
		return false
	}
	current, err := t.tokens.AccessToken(ctx)
	if err != nil || current == "" {
		return false
	}
	return current != sent
}

// replayable prepares the resubmission of req.
func (t *refreshTransport) replayable(req *http.Request) (*http.Request, bool) {
	retry := req.Clone(WithRetry(req.Context()))
	if req.Body == nil || req.Body == http.NoBody {
		return retry, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	retry.Body = body
	return retry, true
}

func isTokenEndpoint(req *http.Request) bool {
	path := req.URL.Path
	return strings.Contains(path, refreshEndpoint) || strings.HasSuffix(path, loginEndpoint)
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (string, error)

func (f RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return f(ctx)
}
