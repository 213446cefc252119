package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/backend/backendfake"
	"github.com/jrsteele09/go-auth-session/backend/oidcbackend"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/server"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

const allowedOrigin = "http://app.example"

// fakeSignIn completes sign in by making the fake backend report a new session.
type fakeSignIn struct {
	backend *backendfake.FakeBackend
	session *sessions.Session

	mu          sync.Mutex
	completeErr error
	code        string
	verifier    string
	nonce       string
}

func (f *fakeSignIn) StartSignIn() (oidcbackend.AuthRequest, error) {
	return oidcbackend.AuthRequest{
		URL:          "https://idp.example/authorize?state=state-1",
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
	}, nil
}

func (f *fakeSignIn) CompleteSignIn(ctx context.Context, code, codeVerifier, nonce string) (*sessions.Session, error) {
	f.mu.Lock()
	f.code, f.verifier, f.nonce = code, codeVerifier, nonce
	err := f.completeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f.backend.SetCurrentSession(f.session, nil)
	f.backend.Emit(sessions.Event{Type: sessions.EventSignedIn, Session: f.session, At: time.Now()})
	return f.session, nil
}

type testFixture struct {
	backend  *backendfake.FakeBackend
	manager  *auth.Manager
	registry *prometheus.Registry
	signIn   *fakeSignIn
	server   *server.Server
	http     *httptest.Server
}

func newSession(userID string, ttl time.Duration) *sessions.Session {
	return &sessions.Session{
		User:         sessions.User{ID: userID, Email: userID + "@example.com", Name: "Test User"},
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(ttl),
	}
}

func newTestFixture(t *testing.T, current *sessions.Session, withSignIn bool) *testFixture {
	t.Helper()

	v := viper.New()
	v.Set("ENV", "TEST")
	v.Set("CORS_ALLOWED_ORIGINS", allowedOrigin)
	cfg := config.NewFromViper(v)

	f := &testFixture{
		backend:  backendfake.NewFakeBackend(),
		registry: prometheus.NewRegistry(),
	}
	f.backend.SetCurrentSession(current, nil)

	m, err := auth.NewManager(f.backend,
		auth.WithCheckInterval(0),
		auth.WithMetrics(metrics.New(f.registry)),
	)
	require.NoError(t, err)
	f.manager = m

	options := []server.Option{
		server.WithGatherer(f.registry),
		server.WithPingInterval(time.Second),
	}
	if withSignIn {
		f.signIn = &fakeSignIn{backend: f.backend, session: newSession("signed-in-user", time.Hour)}
		options = append(options, server.WithSignIn(f.signIn))
	}

	srv, err := server.New(context.Background(), cfg, m, options...)
	require.NoError(t, err)
	f.server = srv
	f.http = httptest.NewServer(srv)

	t.Cleanup(func() {
		f.http.Close()
		srv.Close()
	})
	return f
}

func (f *testFixture) client() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (f *testFixture) getSession(t *testing.T) server.SessionResponse {
	t.Helper()
	resp, err := http.Get(f.http.URL + server.RouteAPISession)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body server.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func (f *testFixture) waitReady(t *testing.T) server.SessionResponse {
	t.Helper()
	var body server.SessionResponse
	require.Eventually(t, func() bool {
		body = f.getSession(t)
		return !body.Loading
	}, 2*time.Second, 10*time.Millisecond)
	return body
}

func postJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestSessionHandlerReturnsSnapshot(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)

	body := f.waitReady(t)
	require.True(t, body.SignedIn)
	require.Equal(t, "ready", body.State)
	require.NotNil(t, body.User)
	require.Equal(t, "user-1", body.User.ID)
	require.NotNil(t, body.ExpiresAt)
	require.Empty(t, body.RefreshError)
}

func TestSessionHandlerNeverSerialisesTokens(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	resp, err := http.Get(f.http.URL + server.RouteAPISession)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.NotContains(t, string(raw), "access-user-1")
	require.NotContains(t, string(raw), "refresh-user-1")
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestSessionHandlerSignedOut(t *testing.T) {
	f := newTestFixture(t, nil, false)

	body := f.waitReady(t)
	require.False(t, body.SignedIn)
	require.Nil(t, body.User)
	require.Nil(t, body.ExpiresAt)
}

func TestRefreshHandler(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	f.backend.SetRefreshResult(newSession("user-1", 2*time.Hour), nil)

	var body struct {
		Refreshed bool `json:"refreshed"`
		SignedIn  bool `json:"signed_in"`
	}
	resp := postJSON(t, f.http.URL+server.RouteAPISessionRefresh, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Refreshed)
	require.True(t, body.SignedIn)
	require.Equal(t, 1, f.backend.RefreshCalls())

	// inside the debounce window the provider is not called again
	resp = postJSON(t, f.http.URL+server.RouteAPISessionRefresh, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.Refreshed)
	require.Equal(t, 1, f.backend.RefreshCalls())
}

func TestRefreshHandlerReportsFailure(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	f.backend.SetRefreshResult(nil, errors.New("provider down"))

	var body struct {
		Refreshed    bool   `json:"refreshed"`
		RefreshError string `json:"refresh_error"`
	}
	postJSON(t, f.http.URL+server.RouteAPISessionRefresh, &body)
	require.False(t, body.Refreshed)
	require.Contains(t, body.RefreshError, "provider down")
}

func TestSignOutHandlerClearsWhenProviderFails(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	f.backend.SetSignOutError(errors.New("revocation endpoint unreachable"))

	var body struct {
		SignedOut bool   `json:"signed_out"`
		Error     string `json:"error"`
	}
	resp := postJSON(t, f.http.URL+server.RouteAPISessionSignOut, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, body.SignedOut)
	require.Contains(t, body.Error, "revocation endpoint unreachable")

	require.False(t, f.getSession(t).SignedIn)
	require.Nil(t, f.manager.CurrentSession())
}

func TestLoginAndCallback(t *testing.T) {
	f := newTestFixture(t, nil, true)
	f.waitReady(t)
	client := f.client()

	resp, err := client.Get(f.http.URL + server.RouteAuthLogin + "?return_url=/home")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "https://idp.example/authorize?state=state-1", resp.Header.Get("Location"))

	resp, err = client.Get(f.http.URL + server.RouteCallback + "?code=code-1&state=state-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/home", resp.Header.Get("Location"))

	f.signIn.mu.Lock()
	require.Equal(t, "code-1", f.signIn.code)
	require.Equal(t, "verifier-1", f.signIn.verifier)
	require.Equal(t, "nonce-1", f.signIn.nonce)
	f.signIn.mu.Unlock()

	require.Eventually(t, func() bool {
		body := f.getSession(t)
		return body.SignedIn && body.User != nil && body.User.ID == "signed-in-user"
	}, 2*time.Second, 10*time.Millisecond)

	// states are single use
	resp, err = client.Get(f.http.URL + server.RouteCallback + "?code=code-1&state=state-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallbackFormPost(t *testing.T) {
	f := newTestFixture(t, nil, true)
	client := f.client()

	resp, err := client.Get(f.http.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.PostForm(f.http.URL+server.RouteCallback, url.Values{"code": {"code-2"}, "state": {"state-1"}})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, server.RouteAPISession, resp.Header.Get("Location"))
}

func TestLoginIgnoresExternalReturnURL(t *testing.T) {
	for _, returnURL := range []string{"//evil.example/x", "https://evil.example", "/\\evil.example", "relative"} {
		t.Run(returnURL, func(t *testing.T) {
			f := newTestFixture(t, nil, true)
			client := f.client()

			resp, err := client.Get(f.http.URL + server.RouteAuthLogin + "?return_url=" + url.QueryEscape(returnURL))
			require.NoError(t, err)
			resp.Body.Close()

			resp, err = client.Get(f.http.URL + server.RouteCallback + "?code=c&state=state-1")
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, server.RouteAPISession, resp.Header.Get("Location"))
		})
	}
}

func TestCallbackRejectsBadRequests(t *testing.T) {
	f := newTestFixture(t, nil, true)
	client := f.client()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "unknown state", query: "?code=c&state=unknown", want: http.StatusBadRequest},
		{name: "missing code", query: "?state=state-1", want: http.StatusBadRequest},
		{name: "provider error", query: "?error=access_denied&error_description=denied", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Get(f.http.URL + server.RouteCallback + tt.query)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	f := newTestFixture(t, nil, true)
	client := f.client()
	f.signIn.mu.Lock()
	f.signIn.completeErr = errors.New("invalid_grant")
	f.signIn.mu.Unlock()

	resp, err := client.Get(f.http.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Get(f.http.URL + server.RouteCallback + "?code=c&state=state-1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.False(t, f.waitReady(t).SignedIn)
}

func TestLoginWithoutSignInFlow(t *testing.T) {
	f := newTestFixture(t, nil, false)

	resp, err := f.client().Get(f.http.URL + server.RouteAuthLogin)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestCorsPreflight(t *testing.T) {
	f := newTestFixture(t, nil, false)

	req, err := http.NewRequest(http.MethodOptions, f.http.URL+server.RouteAPISessionRefresh, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", allowedOrigin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, allowedOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "http://other.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthzAndMetrics(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	resp, err := http.Get(f.http.URL + server.RouteHealthz)
	require.NoError(t, err)
	var health struct {
		Status      string `json:"status"`
		Subscribers int    `json:"subscribers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Subscribers)

	resp, err = http.Get(f.http.URL + server.RouteMetrics)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(raw), "auth_session_event_subscribers 1")
}

func TestRecoverMiddleware(t *testing.T) {
	f := newTestFixture(t, nil, false)

	h := server.ChainMiddleware(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}, f.server.StdMiddleware()...)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal_error")
}

func dialEvents(t *testing.T, f *testFixture) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + server.RouteAPISessionEvents
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

// readUntil reads snapshots until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(server.SessionResponse) bool) server.SessionResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var body server.SessionResponse
		require.NoError(t, conn.ReadJSON(&body))
		if match(body) {
			return body
		}
	}
}

func TestSessionEventsStreamsChanges(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	conn := dialEvents(t, f)
	defer conn.Close()

	body := readUntil(t, conn, func(b server.SessionResponse) bool { return !b.Loading })
	require.True(t, body.SignedIn)
	require.Equal(t, "user-1", body.User.ID)
	require.Eventually(t, func() bool { return f.manager.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	f.backend.Emit(sessions.Event{Type: sessions.EventSignedOut, At: time.Now()})
	body = readUntil(t, conn, func(b server.SessionResponse) bool { return !b.SignedIn })
	require.Nil(t, body.User)

	f.backend.Emit(sessions.Event{Type: sessions.EventSignedIn, Session: newSession("user-2", time.Hour), At: time.Now()})
	body = readUntil(t, conn, func(b server.SessionResponse) bool { return b.SignedIn })
	require.Equal(t, "user-2", body.User.ID)
}

func TestSessionEventsReleasesOnDisconnect(t *testing.T) {
	f := newTestFixture(t, newSession("user-1", time.Hour), false)
	f.waitReady(t)

	conn := dialEvents(t, f)
	readUntil(t, conn, func(b server.SessionResponse) bool { return !b.Loading })
	require.Eventually(t, func() bool { return f.manager.Subscribers() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	require.Eventually(t, func() bool { return f.manager.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, f.backend.Listeners())
}

func TestSessionEventsRejectsForeignOrigin(t *testing.T) {
	f := newTestFixture(t, nil, false)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + server.RouteAPISessionEvents
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
