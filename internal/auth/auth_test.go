package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalsociety/egov-cli/internal/output"
	"github.com/digitalsociety/egov-cli/internal/session"
)

type tokenServer struct {
	*httptest.Server
	refreshCalls atomic.Int32
	lastRefresh  atomic.Value
}

// newTokenServer serves the token endpoints. refresh handles the refresh
// endpoint after the call has been counted.
func newTokenServer(t *testing.T, refresh http.HandlerFunc) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		ts.refreshCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		ts.lastRefresh.Store(body["refresh"])
		refresh(w, r)
	})
	mux.HandleFunc("POST "+LoginPath, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "ana" || body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"No active account found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access":"A1","refresh":"R1"}`))
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func respondStatus(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}
}

func newTestManager(t *testing.T, srv *tokenServer) (*Manager, *session.Session) {
	t.Helper()
	sess := session.New(session.NewMemoryBackend(), srv.URL)
	return NewManager(sess, srv.URL, srv.Client()), sess
}

func TestRefreshStoresNewAccessToken(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2"}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))

	token, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
	assert.Equal(t, "R1", srv.lastRefresh.Load())

	creds, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", creds.AccessToken)
	assert.Equal(t, "R1", creds.RefreshToken)
	assert.False(t, creds.RefreshAttemptFailed)
}

func TestRefreshStoresRotatedRefreshToken(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2","refresh":"R2"}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))

	_, err := m.Refresh(ctx)
	require.NoError(t, err)

	creds, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "R2", creds.RefreshToken)
}

func TestRefreshFailureSetsFlag(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			srv := newTokenServer(t, respondStatus(status))
			m, sess := newTestManager(t, srv)
			ctx := context.Background()
			require.NoError(t, sess.Login(ctx, "A1", "R1"))

			_, err := m.Refresh(ctx)

			var refreshErr *RefreshError
			require.ErrorAs(t, err, &refreshErr)
			assert.Equal(t, status, refreshErr.StatusCode)

			failed, err := sess.RefreshFailed(ctx)
			require.NoError(t, err)
			assert.True(t, failed)

			// The stored access token is left alone.
			token, err := sess.AccessToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, "A1", token)
		})
	}
}

func TestRefreshNotRetriedAfterFailure(t *testing.T) {
	srv := newTokenServer(t, respondStatus(http.StatusUnauthorized))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))

	_, err := m.Refresh(ctx)
	require.Error(t, err)

	_, err = m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrRefreshUnavailable)
	assert.Equal(t, int32(1), srv.refreshCalls.Load())
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2"}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", ""))

	_, err := m.Refresh(ctx)
	assert.ErrorIs(t, err, ErrRefreshUnavailable)
	assert.Equal(t, int32(0), srv.refreshCalls.Load())

	failed, err := sess.RefreshFailed(ctx)
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestRefreshNetworkFailureSetsFlag(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2"}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))
	srv.Close()

	_, err := m.Refresh(ctx)

	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Zero(t, refreshErr.StatusCode)

	failed, err := sess.RefreshFailed(ctx)
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestRefreshMissingAccessInResponse(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))

	_, err := m.Refresh(ctx)
	var refreshErr *RefreshError
	require.ErrorAs(t, err, &refreshErr)

	failed, err := sess.RefreshFailed(ctx)
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestConcurrentRefreshSharesOneFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		respondJSON(`{"access":"A2"}`)(w, r)
	})
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))

	const n = 10
	var wg sync.WaitGroup
	tokens := make([]string, n)
	errs := make([]error, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens[0], errs[0] = m.Refresh(ctx)
	}()
	<-started

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = m.Refresh(ctx)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), srv.refreshCalls.Load())
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, "A2", tokens[i])
	}
}

func TestConcurrentRefreshFailureMarksOnce(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "A1", "R1"))

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = m.Refresh(ctx)
	}()
	<-started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Refresh(ctx)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), srv.refreshCalls.Load())
	for _, err := range errs {
		var refreshErr *RefreshError
		assert.ErrorAs(t, err, &refreshErr)
	}
}

func TestRefreshWaiterHonoursOwnContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		respondJSON(`{"access":"A2"}`)(w, r)
	})
	m, sess := newTestManager(t, srv)
	require.NoError(t, sess.Login(context.Background(), "A1", "R1"))

	leaderDone := make(chan error, 1)
	go func() {
		_, err := m.Refresh(context.Background())
		leaderDone <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-leaderDone)

	token, err := sess.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
}

func TestRefreshFlightSurvivesLeaderCancellation(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		respondJSON(`{"access":"A2"}`)(w, r)
	})
	m, sess := newTestManager(t, srv)
	require.NoError(t, sess.Login(context.Background(), "A1", "R1"))

	ctx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := m.Refresh(ctx)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan string, 1)
	go func() {
		token, _ := m.Refresh(context.Background())
		followerDone <- token
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)

	close(release)
	assert.Equal(t, "A2", <-followerDone)
	assert.Equal(t, int32(1), srv.refreshCalls.Load())
}

type recordingHooks struct {
	mu     sync.Mutex
	starts int
	ends   []error
}

func (h *recordingHooks) OnRefreshStart(context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
}

func (h *recordingHooks) OnRefreshEnd(_ context.Context, err error, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends = append(h.ends, err)
}

func TestRefreshHooks(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2"}`))
	sess := session.New(session.NewMemoryBackend(), srv.URL)
	hooks := &recordingHooks{}
	m := NewManager(sess, srv.URL, srv.Client(), WithHooks(hooks))
	require.NoError(t, sess.Login(context.Background(), "A1", "R1"))

	_, err := m.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, hooks.starts)
	require.Len(t, hooks.ends, 1)
	assert.NoError(t, hooks.ends[0])
}

func TestLogin(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2"}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, sess.MarkRefreshFailed(ctx))

	require.NoError(t, m.Login(ctx, "ana", "secret"))

	creds, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", creds.AccessToken)
	assert.Equal(t, "R1", creds.RefreshToken)
	assert.False(t, creds.RefreshAttemptFailed)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{"access":"A2"}`))
	m, _ := newTestManager(t, srv)

	err := m.Login(context.Background(), "ana", "wrong")

	var e *output.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, output.CodeAuth, e.Code)
	assert.Equal(t, http.StatusUnauthorized, e.HTTPStatus)
}

func TestLoginRequiresCredentials(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{}`))
	m, _ := newTestManager(t, srv)

	err := m.Login(context.Background(), "", "secret")
	var e *output.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, output.CodeUsage, e.Code)
}

func TestLogout(t *testing.T) {
	srv := newTokenServer(t, respondJSON(`{}`))
	m, sess := newTestManager(t, srv)
	ctx := context.Background()
	require.NoError(t, m.Login(ctx, "ana", "secret"))

	require.NoError(t, m.Logout(ctx))

	creds, err := sess.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
}

func TestInspect(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    42,
		"token_type": "access",
		"jti":        "abc",
		"exp":        exp.Unix(),
	}).SignedString([]byte("key"))
	require.NoError(t, err)

	info, err := Inspect(token)
	require.NoError(t, err)
	assert.Equal(t, "42", info.UserID)
	assert.Equal(t, "access", info.TokenType)
	assert.Equal(t, "abc", info.ID)
	assert.True(t, exp.Equal(info.ExpiresAt))
	assert.False(t, info.Expired(time.Now()))
	assert.True(t, info.Expired(exp.Add(time.Second)))
}

func TestInspectRejectsGarbage(t *testing.T) {
	_, err := Inspect("not-a-token")
	assert.Error(t, err)
}
