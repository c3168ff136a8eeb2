package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalsociety/egov-cli/internal/auth"
	"github.com/digitalsociety/egov-cli/internal/session"
	"github.com/digitalsociety/egov-cli/internal/transport"
)

// portal is a fake API that accepts only "Bearer <valid>" and serves the
// refresh endpoint.
type portal struct {
	*httptest.Server

	mu           sync.Mutex
	valid        string
	seenAuth     []string
	seenBodies   []string
	refreshCalls atomic.Int32
	unauthorized atomic.Int32
	refreshBody  atomic.Value

	// refresh answers the refresh endpoint; nil means {"access":"A2"}.
	refresh http.HandlerFunc
}

func newPortal(t *testing.T, valid string, refresh http.HandlerFunc) *portal {
	t.Helper()
	p := &portal{valid: valid, refresh: refresh}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		p.refreshCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		p.refreshBody.Store(body)
		if p.refresh != nil {
			p.refresh(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"access":"A2"}`))
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.seenAuth = append(p.seenAuth, r.Header.Get(transport.HeaderAuthorization))
		p.seenBodies = append(p.seenBodies, string(body))
		valid := p.valid
		p.mu.Unlock()

		if r.Header.Get(transport.HeaderAuthorization) != "Bearer "+valid {
			p.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"token not valid"}`))
			return
		}
		_, _ = w.Write([]byte("ok:" + string(body)))
	})
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *portal) auths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seenAuth...)
}

type recordingNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (n *recordingNavigator) Navigate(_ context.Context, target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, target)
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

type pipeline struct {
	client  *http.Client
	session *session.Session
	nav     *recordingNavigator
}

// newPipeline wires the full chain with a real refresh coordinator that
// shares the pipeline's client.
func newPipeline(t *testing.T, p *portal, access, refresh string) *pipeline {
	t.Helper()
	sess := session.New(session.NewMemoryBackend(), p.URL)
	if access != "" {
		require.NoError(t, sess.Login(context.Background(), access, refresh))
	}
	nav := &recordingNavigator{}
	client := &http.Client{}
	mgr := auth.NewManager(sess, p.URL, client)
	client.Transport = transport.Chain(p.Client().Transport,
		transport.RefreshOnUnauthorized(mgr, sess, transport.RefreshOptions{Navigator: nav}),
		transport.RequestID(),
		transport.Augment(sess, transport.AugmentOptions{}),
	)
	return &pipeline{client: client, session: sess, nav: nav}
}

func (pl *pipeline) get(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := pl.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) AccessToken(context.Context) (string, error) {
	return s.token, s.err
}

func captureHeaders(t *testing.T, mw transport.Middleware) http.Header {
	t.Helper()
	var got http.Header
	rt := transport.Chain(transport.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	}), mw)

	req := httptest.NewRequest(http.MethodGet, "http://portal.test/api/user_groups/", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	return got
}

func TestAugmentWithoutToken(t *testing.T) {
	h := captureHeaders(t, transport.Augment(staticTokens{}, transport.AugmentOptions{}))
	assert.Empty(t, h.Get(transport.HeaderAuthorization))
	assert.Empty(t, h.Get(transport.HeaderCSRFToken))
}

func TestAugmentSetsBearer(t *testing.T) {
	h := captureHeaders(t, transport.Augment(staticTokens{token: "T"}, transport.AugmentOptions{}))
	assert.Equal(t, "Bearer T", h.Get(transport.HeaderAuthorization))
}

func TestAugmentSetsCSRFToken(t *testing.T) {
	h := captureHeaders(t, transport.Augment(staticTokens{}, transport.AugmentOptions{CSRFToken: "xsrf"}))
	assert.Equal(t, "xsrf", h.Get(transport.HeaderCSRFToken))
	assert.Empty(t, h.Get(transport.HeaderAuthorization))
}

func TestAugmentIgnoresStoreErrors(t *testing.T) {
	h := captureHeaders(t, transport.Augment(staticTokens{token: "T", err: errors.New("locked")}, transport.AugmentOptions{}))
	assert.Empty(t, h.Get(transport.HeaderAuthorization))
}

func TestAugmentDoesNotMutateCallerRequest(t *testing.T) {
	rt := transport.Chain(transport.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: req}, nil
	}), transport.Augment(staticTokens{token: "T"}, transport.AugmentOptions{}))

	req := httptest.NewRequest(http.MethodGet, "http://portal.test/api/", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, req.Header.Get(transport.HeaderAuthorization))
}

func TestRequestIDIsFreshPerAttempt(t *testing.T) {
	first := captureHeaders(t, transport.RequestID())
	second := captureHeaders(t, transport.RequestID())
	assert.Len(t, first.Get(transport.HeaderRequestID), 36)
	assert.NotEqual(t, first.Get(transport.HeaderRequestID), second.Get(transport.HeaderRequestID))
}

func TestChainOrder(t *testing.T) {
	var order []string
	stage := func(name string) transport.Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return transport.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(req)
			})
		}
	}
	rt := transport.Chain(transport.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}), stage("outer"), stage("inner"))

	_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://portal.test/", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestRefreshAndRetryOnce(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "A1", "R1")

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), p.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer A1", "Bearer A2"}, p.auths())
	assert.Equal(t, map[string]string{"refresh": "R1"}, p.refreshBody.Load())

	token, err := pl.session.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A2", token)
	assert.Empty(t, pl.nav.visited())
}

func TestRetryResultIsFinal(t *testing.T) {
	// The refreshed token is still rejected: the second 401 is returned
	// without another refresh.
	p := newPortal(t, "never", nil)
	pl := newPipeline(t, p, "A1", "R1")

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), p.refreshCalls.Load())
	assert.Len(t, p.auths(), 2)
	assert.Empty(t, pl.nav.visited())
}

func TestRefreshFailureNavigatesToLogin(t *testing.T) {
	p := newPortal(t, "A2", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	pl := newPipeline(t, p, "A1", "R1")

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "token not valid")
	assert.Len(t, p.auths(), 1, "no retry after a failed refresh")
	assert.Equal(t, []string{"/login?sessionExpired=true"}, pl.nav.visited())

	failed, err := pl.session.RefreshFailed(context.Background())
	require.NoError(t, err)
	assert.True(t, failed)
}

func TestRefreshBadRequestIsFailure(t *testing.T) {
	p := newPortal(t, "A2", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	pl := newPipeline(t, p, "A1", "R1")

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{transport.SessionExpiredURL}, pl.nav.visited())
}

func TestFailedFlagSkipsRefresh(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "A1", "R1")
	require.NoError(t, pl.session.MarkRefreshFailed(context.Background()))

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), p.refreshCalls.Load())
	assert.Len(t, p.auths(), 1)
	assert.Empty(t, pl.nav.visited())
}

func TestRetryFlagSkipsRefresh(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "A1", "R1")

	req, err := http.NewRequestWithContext(transport.WithRetry(context.Background()), http.MethodGet, p.URL+"/api/user_groups/", nil)
	require.NoError(t, err)
	resp, err := pl.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), p.refreshCalls.Load())
	assert.Len(t, p.auths(), 1)
}

func TestMissingRefreshTokenMakesNoRefreshCall(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "A1", "")

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), p.refreshCalls.Load())
	assert.Equal(t, []string{transport.SessionExpiredURL}, pl.nav.visited())

	failed, err := pl.session.RefreshFailed(context.Background())
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestNoStoredTokenSendsNoAuthorization(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "", "")

	resp := pl.get(t, p.URL+"/api/user_groups/")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{""}, p.auths())
	assert.Equal(t, int32(0), p.refreshCalls.Load())
}

func TestNonUnauthorizedPassesThrough(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	refresher := &countingRefresher{}
	rt := transport.Chain(srv.Client().Transport,
		transport.RefreshOnUnauthorized(refresher, staticState{}, transport.RefreshOptions{}))
	resp, err := (&http.Client{Transport: rt}).Get(srv.URL + "/api/get_user/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, refresher.calls.Load())
}

func TestTokenEndpointResponsesPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	refresher := &countingRefresher{}
	nav := &recordingNavigator{}
	client := &http.Client{Transport: transport.Chain(srv.Client().Transport,
		transport.RefreshOnUnauthorized(refresher, staticState{}, transport.RefreshOptions{Navigator: nav}))}

	for _, path := range []string{"/api/token/refresh/", "/api/token/"} {
		resp, err := client.Post(srv.URL+path, "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
	assert.Zero(t, refresher.calls.Load())
	assert.Empty(t, nav.visited())
}

func TestRetryReplaysBody(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "A1", "R1")

	resp, err := pl.client.Post(p.URL+"/api/create_post/", "application/json",
		bytes.NewReader([]byte(`{"title":"hello"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `ok:{"title":"hello"}`, readBody(t, resp))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []string{`{"title":"hello"}`, `{"title":"hello"}`}, p.seenBodies)
}

func TestNonReplayableBodyIsTerminal(t *testing.T) {
	p := newPortal(t, "A2", nil)
	pl := newPipeline(t, p, "A1", "R1")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, p.URL+"/api/create_post/",
		io.NopCloser(strings.NewReader(`{"title":"hello"}`)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := pl.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), p.refreshCalls.Load())
}

func TestConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	release := make(chan struct{})
	p := newPortal(t, "A2", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"access":"A2"}`))
	})
	pl := newPipeline(t, p, "A1", "R1")

	const n = 8
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := pl.client.Get(p.URL + "/api/get_notifications/")
			if !assert.NoError(t, err) {
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}()
	}

	require.Eventually(t, func() bool { return p.unauthorized.Load() == n },
		5*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.refreshCalls.Load())
	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
}

func TestLateUnauthorizedReusesRefreshedToken(t *testing.T) {
	p := newPortal(t, "A2", nil)
	sess := session.New(session.NewMemoryBackend(), p.URL)
	require.NoError(t, sess.Login(context.Background(), "A1", "R1"))

	// Responses for the slow path are held until released, so its 401 for
	// A1 arrives after the other request has refreshed.
	release := make(chan struct{})
	base := p.Client().Transport
	held := transport.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := base.RoundTrip(req)
		if req.URL.Path == "/api/get_post/1/" && req.Header.Get(transport.HeaderAuthorization) == "Bearer A1" {
			<-release
		}
		return resp, err
	})

	client := &http.Client{}
	mgr := auth.NewManager(sess, p.URL, client)
	client.Transport = transport.Chain(held,
		transport.RefreshOnUnauthorized(mgr, sess, transport.RefreshOptions{}),
		transport.Augment(sess, transport.AugmentOptions{}),
	)

	slow := make(chan int, 1)
	go func() {
		resp, err := client.Get(p.URL + "/api/get_post/1/")
		if !assert.NoError(t, err) {
			slow <- 0
			return
		}
		resp.Body.Close()
		slow <- resp.StatusCode
	}()
	require.Eventually(t, func() bool { return p.unauthorized.Load() == 1 },
		5*time.Second, 5*time.Millisecond)

	resp, err := client.Get(p.URL + "/api/get_notifications/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), p.refreshCalls.Load())

	close(release)
	assert.Equal(t, http.StatusOK, <-slow)
	assert.Equal(t, int32(1), p.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer A1", "Bearer A1", "Bearer A2", "Bearer A2"}, p.auths())
}

func TestCancelledWaiterDoesNotNavigate(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	refresher := transport.RefresherFunc(func(context.Context) (string, error) {
		cancel()
		return "", context.Canceled
	})
	nav := &recordingNavigator{}
	client := &http.Client{Transport: transport.Chain(srv.Client().Transport,
		transport.RefreshOnUnauthorized(refresher, staticState{}, transport.RefreshOptions{Navigator: nav}))}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/get_user/", nil)
	require.NoError(t, err)
	_, err = client.Do(req)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, nav.visited())
}

type recordingHooks struct {
	mu      sync.Mutex
	starts  []transport.RequestInfo
	results []transport.RequestResult
	retries []int
}

func (h *recordingHooks) OnRequestStart(ctx context.Context, info transport.RequestInfo) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, info)
	return ctx
}

func (h *recordingHooks) OnRequestEnd(_ context.Context, _ transport.RequestInfo, result transport.RequestResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, result)
}

func (h *recordingHooks) OnRetry(_ context.Context, _ transport.RequestInfo, attempt int, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, attempt)
}

func TestObserveReportsBothAttempts(t *testing.T) {
	p := newPortal(t, "A2", nil)
	sess := session.New(session.NewMemoryBackend(), p.URL)
	require.NoError(t, sess.Login(context.Background(), "A1", "R1"))
	hooks := &recordingHooks{}
	client := &http.Client{}
	mgr := auth.NewManager(sess, p.URL, client)
	client.Transport = transport.Chain(p.Client().Transport,
		transport.RefreshOnUnauthorized(mgr, sess, transport.RefreshOptions{}),
		transport.RequestID(),
		transport.Observe(hooks),
		transport.Augment(sess, transport.AugmentOptions{}),
	)

	resp, err := client.Get(p.URL + "/api/user_documents/")
	require.NoError(t, err)
	resp.Body.Close()

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	// Original request, the refresh call itself, then the resubmission.
	require.Len(t, hooks.starts, 3)
	assert.Equal(t, 1, hooks.starts[0].Attempt)
	assert.NotEmpty(t, hooks.starts[0].RequestID)
	assert.Contains(t, hooks.starts[1].URL, "/api/token/refresh/")
	assert.Equal(t, 2, hooks.starts[2].Attempt)
	assert.NotEqual(t, hooks.starts[0].RequestID, hooks.starts[2].RequestID)
	assert.Equal(t, []int{2}, hooks.retries)
	assert.Equal(t, http.StatusUnauthorized, hooks.results[0].StatusCode)
	assert.Equal(t, http.StatusOK, hooks.results[2].StatusCode)
}

func TestConsumeSessionExpired(t *testing.T) {
	cleaned, expired := transport.ConsumeSessionExpired(transport.SessionExpiredURL)
	assert.True(t, expired)
	assert.Equal(t, "/login", cleaned)

	cleaned, expired = transport.ConsumeSessionExpired("/login?next=%2Fprofile&sessionExpired=true")
	assert.True(t, expired)
	assert.Equal(t, "/login?next=%2Fprofile", cleaned)

	cleaned, expired = transport.ConsumeSessionExpired("/login?next=%2Fprofile")
	assert.False(t, expired)
	assert.Equal(t, "/login?next=%2Fprofile", cleaned)
}

type countingRefresher struct {
	calls atomic.Int32
}

func (r *countingRefresher) Refresh(context.Context) (string, error) {
	r.calls.Add(1)
	return "new", nil
}

type staticState struct {
	failed bool
}

func (s staticState) RefreshFailed(context.Context) (bool, error) {
	return s.failed, nil
}
