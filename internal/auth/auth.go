// Package auth issues and refreshes portal tokens.
//
// The Manager is the refresh coordinator of the request pipeline: concurrent
// callers that hit a 401 share a single in-flight refresh, and a failed
// refresh is recorded in the session so that no further attempt is made until
// the next login.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/session"
)

// Token endpoints, relative to the portal origin.
const (
	LoginPath   = "/api/token/"
	RefreshPath = "/api/token/refresh/"
)

const refreshFlightKey = "refresh"

// ErrRefreshUnavailable is returned when no refresh can be attempted: there is
// no stored refresh token, or a previous attempt already failed.
var ErrRefreshUnavailable = errors.New("refresh token not available or refresh already attempted")

// RefreshError reports a refresh call that was made and failed.
type RefreshError struct {
	StatusCode int // 0 for transport failures
	Cause      error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh failed: HTTP %d", e.StatusCode)
	}
	if e.Cause != nil {
		return "token refresh failed: " + e.Cause.Error()
	}
	return "token refresh failed"
}

func (e *RefreshError) Unwrap() error {
	return e.Cause
}

// Hooks observes refresh flights.
type Hooks interface {
	OnRefreshStart(ctx context.Context)
	OnRefreshEnd(ctx context.Context, err error, duration time.Duration)
}

// Manager handles login, logout and token refresh for one session.
type Manager struct {
	session    *session.Session
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	hooks      Hooks

	flight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the debug logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHooks sets the refresh observer.
func WithHooks(hooks Hooks) Option {
	return func(m *Manager) { m.hooks = hooks }
}

// NewManager creates a new auth manager. httpClient may be the same client the
// pipeline is installed on: responses from RefreshPath are never intercepted.
func NewManager(sess *session.Session, baseURL string, httpClient *http.Client, opts ...Option) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	m := &Manager{
		session:    sess,
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the session the manager writes to.
func (m *Manager) Session() *session.Session {
	return m.session
}

// Refresh obtains a new access token, joining the in-flight refresh if there
// is one. The flight itself is detached from ctx so that one caller giving up
// does not fail the others; ctx only bounds how long this caller waits.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(refreshFlightKey, func() (any, error) {
		return m.refresh(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (token string, err error) {
	if m.hooks != nil {
		m.hooks.OnRefreshStart(ctx)
		start := time.Now()
		defer func() { m.hooks.OnRefreshEnd(ctx, err, time.Since(start)) }()
	}

	creds, err := m.session.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if !creds.HasRefreshToken() || creds.RefreshAttemptFailed {
		m.logger.Debug("refresh unavailable",
			"has_refresh_token", creds.HasRefreshToken(),
			"refresh_attempt_failed", creds.RefreshAttemptFailed)
		return "", ErrRefreshUnavailable
	}

	pair, err := m.requestRefresh(ctx, creds.RefreshToken)
	if err != nil {
		m.logger.Debug("refresh failed", "error", err)
		if markErr := m.session.MarkRefreshFailed(ctx); markErr != nil {
			m.logger.Debug("could not record failed refresh", "error", markErr)
		}
		return "", err
	}

	if err := m.session.StoreRefreshed(ctx, pair.Access, pair.Refresh); err != nil {
		return "", err
	}
	m.logger.Debug("refresh succeeded", "rotated", pair.Refresh != "")
	return pair.Access, nil
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (m *Manager) requestRefresh(ctx context.Context, refreshToken string) (*tokenPair, error) {
	resp, err := m.postJSON(ctx, RefreshPath, map[string]string{"refresh": refreshToken})
	if err != nil {
		return nil, &RefreshError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &RefreshError{StatusCode: resp.StatusCode}
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, &RefreshError{Cause: fmt.Errorf("decoding refresh response: %w", err)}
	}
	if pair.Access == "" {
		return nil, &RefreshError{Cause: errors.New("refresh response carried no access token")}
	}
	return &pair, nil
}

// Login exchanges a username and password for a token pair and stores it,
// clearing any recorded refresh failure.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return output.ErrUsage("username and password are required")
	}

	resp, err := m.postJSON(ctx, LoginPath, map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &output.Error{
			Code:       output.CodeAuth,
			Message:    "Invalid username or password",
			HTTPStatus: resp.StatusCode,
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return output.ErrAPI(resp.StatusCode, fmt.Sprintf("login failed: %s", strings.TrimSpace(string(body))))
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if pair.Access == "" {
		return output.ErrAPI(resp.StatusCode, "login response carried no access token")
	}

	m.flight.Forget(refreshFlightKey)
	if err := m.session.Login(ctx, pair.Access, pair.Refresh); err != nil {
		return err
	}
	m.logger.Debug("logged in", "origin", m.session.Origin(), "backend", m.session.BackendName())
	return nil
}

// Logout removes stored credentials.
func (m *Manager) Logout(ctx context.Context) error {
	m.flight.Forget(refreshFlightKey)
	return m.session.Clear(ctx)
}

func (m *Manager) postJSON(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return m.httpClient.Do(req)
}
