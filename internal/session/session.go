// Package session holds the process-wide credential state for one portal
// origin: the access token, the refresh token and the refresh failure flag.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Persisted key names. All values are strings; the failure flag is stored as
// "true" or not at all.
const (
	KeyAccessToken          = "access_token"
	KeyRefreshToken         = "refresh_token"
	KeyRefreshAttemptFailed = "refresh_attempt_failed"

	flagTrue = "true"
)

// Credentials is a point-in-time view of the stored session.
type Credentials struct {
	AccessToken          string `json:"access_token,omitempty"`
	RefreshToken         string `json:"refresh_token,omitempty"`
	RefreshAttemptFailed bool   `json:"refresh_attempt_failed,omitempty"`
}

// HasRefreshToken reports whether a refresh can be attempted at all.
func (c Credentials) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

func credentialsFrom(values map[string]string) Credentials {
	return Credentials{
		AccessToken:          values[KeyAccessToken],
		RefreshToken:         values[KeyRefreshToken],
		RefreshAttemptFailed: values[KeyRefreshAttemptFailed] == flagTrue,
	}
}

// Session is the injected session context shared by the request pipeline and
// the refresh coordinator. Every mutation is a read-modify-write performed
// under the session mutex and the backend's own atomic update.
type Session struct {
	backend Backend
	origin  string

	mu sync.Mutex
}

// New creates a session for origin backed by backend.
func New(backend Backend, origin string) *Session {
	return &Session{backend: backend, origin: origin}
}

// Origin returns the portal origin the credentials belong to.
func (s *Session) Origin() string {
	return s.origin
}

// BackendName returns the name of the storage backend.
func (s *Session) BackendName() string {
	return s.backend.Name()
}

// Snapshot loads the current credentials.
func (s *Session) Snapshot(ctx context.Context) (Credentials, error) {
	values, err := s.backend.Load(ctx, s.origin)
	if err != nil {
		return Credentials{}, &StoreError{Operation: "load", Origin: s.origin, Cause: err}
	}
	return credentialsFrom(values), nil
}

// Close releases the backend when it holds connections.
func (s *Session) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// AccessToken returns the stored access token, or "" when there is none.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	creds, err := s.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// RefreshFailed reports whether a refresh attempt has failed since the last
// successful login or refresh.
func (s *Session) RefreshFailed(ctx context.Context) (bool, error) {
	creds, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return creds.RefreshAttemptFailed, nil
}

// Login stores a freshly issued token pair and clears the failure flag.
func (s *Session) Login(ctx context.Context, access, refresh string) error {
	if access == "" {
		return errors.New("login: empty access token")
	}
	return s.update(ctx, "save", func(values map[string]string) error {
		values[KeyAccessToken] = access
		if refresh != "" {
			values[KeyRefreshToken] = refresh
		} else {
			delete(values, KeyRefreshToken)
		}
		delete(values, KeyRefreshAttemptFailed)
		return nil
	})
}

// StoreRefreshed records the outcome of a successful refresh. A non-empty
// refresh value replaces the stored refresh token (rotation); an empty one
// keeps it.
func (s *Session) StoreRefreshed(ctx context.Context, access, refresh string) error {
	if access == "" {
		return errors.New("refresh: empty access token")
	}
	return s.update(ctx, "save", func(values map[string]string) error {
		values[KeyAccessToken] = access
		if refresh != "" {
			values[KeyRefreshToken] = refresh
		}
		delete(values, KeyRefreshAttemptFailed)
		return nil
	})
}

// MarkRefreshFailed sets the failure flag. Until the next login or
// successful refresh no further refresh is attempted.
func (s *Session) MarkRefreshFailed(ctx context.Context) error {
	return s.update(ctx, "save", func(values map[string]string) error {
		values[KeyRefreshAttemptFailed] = flagTrue
		return nil
	})
}

// Clear removes every stored key (logout).
func (s *Session) Clear(ctx context.Context) error {
	return s.update(ctx, "delete", func(values map[string]string) error {
		delete(values, KeyAccessToken)
		delete(values, KeyRefreshToken)
		delete(values, KeyRefreshAttemptFailed)
		return nil
	})
}

func (s *Session) update(ctx context.Context, op string, fn func(map[string]string) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Update(ctx, s.origin, fn); err != nil {
		return &StoreError{Operation: op, Origin: s.origin, Cause: err}
	}
	return nil
}

// StoreError indicates a credential storage failure.
type StoreError struct {
	Operation string // "load", "save", "delete"
	Origin    string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " credentials"
	if e.Origin != "" {
		msg += " for " + e.Origin
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// String implements fmt.Stringer without leaking token values.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{access:%t refresh:%t failed:%t}",
		c.AccessToken != "", c.RefreshToken != "", c.RefreshAttemptFailed)
}
