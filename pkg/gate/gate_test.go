package gate_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gematik/zero-gate/pkg/gate"
	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gematik/zero-gate/pkg/session"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const authCodeURL = "https://provider.example.org/oauth2/authorize?client_id=client"

var (
	member   = &oauth2.Identity{ID: "100", Username: "member"}
	outsider = &oauth2.Identity{ID: "200", Username: "outsider"}
)

type fakeExchanger struct{}

func (fakeExchanger) AuthCodeURL() string {
	return authCodeURL
}

func (fakeExchanger) Exchange(_ context.Context, code string) (*oauth2.Identity, error) {
	switch code {
	case "member":
		return member, nil
	case "outsider":
		return outsider, nil
	case "declined":
		return nil, oauth2.ErrNoToken
	default:
		return nil, &oauth2.ExchangeError{Kind: oauth2.ExchangeErrorNetwork, Err: errors.New("connection refused")}
	}
}

type fakeAuthorizer struct {
	mu      sync.Mutex
	allowed map[string]bool
}

func (a *fakeAuthorizer) IsAuthorized(_ context.Context, userID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed[userID]
}

func (a *fakeAuthorizer) allow(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[userID] = true
}

type upstreamRequest struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	Query         string `json:"query"`
	Host          string `json:"host"`
	ForwardedHost string `json:"forwarded_host"`
	Body          string `json:"body"`
}

func newUpstream(t *testing.T) *httptest.Server {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "webmap")
		_ = json.NewEncoder(w).Encode(upstreamRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Host:          r.Host,
			ForwardedHost: r.Header.Get("X-Forwarded-Host"),
			Body:          string(body),
		})
	}))
	t.Cleanup(upstream.Close)
	return upstream
}

// trackingStore remembers the id of the last written session record.
type trackingStore struct {
	session.Store
	mu   sync.Mutex
	last string
}

func newTrackingStore() *trackingStore {
	return &trackingStore{Store: session.NewMemoryStore(0)}
}

func (s *trackingStore) Save(ctx context.Context, id string, record *session.Record, ttl time.Duration) error {
	s.mu.Lock()
	s.last = id
	s.mu.Unlock()
	return s.Store.Save(ctx, id, record, ttl)
}

func (s *trackingStore) lastID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// assertGone checks that the record behind id no longer exists.
func (s *trackingStore) assertGone(t *testing.T, id string) {
	t.Helper()
	_, err := s.Load(context.Background(), id)
	assert.ErrorIs(t, err, session.ErrNotFound, "record %s must be deleted", id)
}

type harness struct {
	t          *testing.T
	server     *httptest.Server
	client     *http.Client
	authorizer *fakeAuthorizer
}

func newHarness(t *testing.T, store session.Store, upstreamURL string) *harness {
	sessions, err := session.NewManager(store, session.Options{Secret: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)

	authorizer := &fakeAuthorizer{allowed: map[string]bool{member.ID: true}}
	g, err := gate.New(gate.Config{UpstreamURL: upstreamURL}, sessions, fakeExchanger{}, authorizer)
	require.NoError(t, err)

	e := echo.New()
	g.MountRoutes(e)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &harness{
		t:      t,
		server: server,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 5 * time.Second,
		},
		authorizer: authorizer,
	}
}

func (h *harness) do(method, path string, body io.Reader) (*http.Response, string) {
	req, err := http.NewRequest(method, h.server.URL+path, body)
	require.NoError(h.t, err)
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, string(data)
}

func (h *harness) get(path string) (*http.Response, string) {
	return h.do(http.MethodGet, path, nil)
}

func (h *harness) sessionCookie() string {
	u, _ := url.Parse(h.server.URL)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == session.DefaultCookieName {
			return c.Value
		}
	}
	return ""
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, location, resp.Header.Get("Location"))
}

// assertForwarded checks that path reaches the upstream.
func (h *harness) assertForwarded(path string) {
	h.t.Helper()
	resp, body := h.get(path)
	require.Equal(h.t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(h.t, "webmap", resp.Header.Get("X-Upstream"))
}

func TestCallbackWithoutCode(t *testing.T) {
	h := newHarness(t, session.NewMemoryStore(0), newUpstream(t).URL)

	resp, _ := h.get("/callback")
	assertRedirect(t, resp, "/")
}

func TestCallbackAuthorizedMember(t *testing.T) {
	store := newTrackingStore()
	h := newHarness(t, store, newUpstream(t).URL)

	h.get("/")
	before := store.lastID()
	require.NotEmpty(t, before, "visiting the landing page starts a session")
	require.NotEmpty(t, h.sessionCookie())

	resp, _ := h.get("/callback?code=member")
	assertRedirect(t, resp, "/")
	assert.NotEqual(t, before, store.lastID(), "login must issue a new session token")
	store.assertGone(t, before)

	h.assertForwarded("/")
	h.assertForwarded("/tiles/1/2/3.png")
}

func TestCallbackUnauthorizedKeepsIdentity(t *testing.T) {
	h := newHarness(t, session.NewMemoryStore(0), newUpstream(t).URL)

	resp, _ := h.get("/callback?code=outsider")
	assertRedirect(t, resp, "/403")

	resp, _ = h.get("/anything")
	assertRedirect(t, resp, "/")

	// the role is granted later, no new login required
	h.authorizer.allow(outsider.ID)
	h.assertForwarded("/anything")
}

func TestCallbackDeclined(t *testing.T) {
	h := newHarness(t, session.NewMemoryStore(0), newUpstream(t).URL)

	resp, _ := h.get("/callback?code=declined")
	assertRedirect(t, resp, "/")

	resp, body := h.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/login"`, "no identity, landing page expected")
}

func TestCallbackExchangeFailure(t *testing.T) {
	h := newHarness(t, session.NewMemoryStore(0), newUpstream(t).URL)

	resp, _ := h.get("/callback?code=broken")
	assertRedirect(t, resp, "/403")

	resp, _ = h.get("/anything")
	assertRedirect(t, resp, "/")
}

func TestForwardingPreservesRequest(t *testing.T) {
	upstream := newUpstream(t)
	h := newHarness(t, session.NewMemoryStore(0), upstream.URL)

	resp, _ := h.get("/callback?code=member")
	assertRedirect(t, resp, "/")

	resp, body := h.do(http.MethodPost, "/api/markers?layer=2", strings.NewReader(`{"x":1}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var seen upstreamRequest
	require.NoError(t, json.Unmarshal([]byte(body), &seen))
	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "/api/markers", seen.Path)
	assert.Equal(t, "layer=2", seen.Query)
	assert.Equal(t, `{"x":1}`, seen.Body)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), seen.Host, "origin must be rewritten")
	assert.Equal(t, strings.TrimPrefix(h.server.URL, "http://"), seen.ForwardedHost)
}

func TestLogout(t *testing.T) {
	store := newTrackingStore()
	h := newHarness(t, store, newUpstream(t).URL)

	// without prior login
	resp, _ := h.get("/logout")
	assertRedirect(t, resp, "/")

	h.get("/callback?code=member")
	h.assertForwarded("/anything")
	loggedIn := h.sessionCookie()
	loggedInID := store.lastID()

	resp, _ = h.get("/logout")
	assertRedirect(t, resp, "/")
	assert.Len(t, resp.Header.Values("Set-Cookie"), 1, "logout sets the session cookie once")
	assert.NotEqual(t, loggedInID, store.lastID(), "logout must issue a new session token")
	store.assertGone(t, loggedInID)

	resp, _ = h.get("/anything")
	assertRedirect(t, resp, "/")

	// replaying the old cookie does not bring the identity back
	u, _ := url.Parse(h.server.URL)
	h.client.Jar.SetCookies(u, []*http.Cookie{{Name: session.DefaultCookieName, Value: loggedIn, Path: "/"}})
	resp, _ = h.get("/anything")
	assertRedirect(t, resp, "/")
}

func TestAnonymousVisitor(t *testing.T) {
	h := newHarness(t, session.NewMemoryStore(0), newUpstream(t).URL)

	resp, body := h.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Sign in with Discord")

	resp, _ = h.do(http.MethodPost, "/", strings.NewReader("x"))
	assertRedirect(t, resp, "/")

	resp, _ = h.get("/anything/deeper?q=1")
	assertRedirect(t, resp, "/")

	resp, _ = h.do(http.MethodDelete, "/anything", nil)
	assertRedirect(t, resp, "/")

	resp, _ = h.get("/login")
	assertRedirect(t, resp, authCodeURL)

	resp, body = h.get("/_gate/static/logo.svg")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<svg")
}

func TestForbiddenPageIsUnconditional(t *testing.T) {
	h := newHarness(t, session.NewMemoryStore(0), newUpstream(t).URL)

	resp, body := h.get("/403")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Access denied")

	h.get("/callback?code=member")
	resp, _ = h.get("/403")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpstreamUnavailable(t *testing.T) {
	upstream := newUpstream(t)
	upstreamURL := upstream.URL
	upstream.Close()

	h := newHarness(t, session.NewMemoryStore(0), upstreamURL)
	h.get("/callback?code=member")

	resp, body := h.get("/anything")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "Web map unavailable")
}

type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*session.Record, error) {
	return nil, errors.New("store unreachable")
}

func (brokenStore) Save(context.Context, string, *session.Record, time.Duration) error {
	return errors.New("store unreachable")
}

func (brokenStore) Delete(context.Context, string) error {
	return errors.New("store unreachable")
}

func TestSessionStoreFailureRendersGenericError(t *testing.T) {
	h := newHarness(t, brokenStore{}, newUpstream(t).URL)

	for _, path := range []string{"/", "/anything", "/callback?code=member", "/logout"} {
		resp, body := h.get(path)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, path)
		assert.Contains(t, body, "Something went wrong", path)
		assert.NotContains(t, body, "store unreachable", path)
	}

	// exchange failures are still absorbed before the store is touched
	resp, _ := h.get("/callback?code=declined")
	assertRedirect(t, resp, "/")
}

func TestNewRejectsRelativeUpstream(t *testing.T) {
	sessions, err := session.NewManager(session.NewMemoryStore(0), session.Options{Secret: []byte("0123456789abcdef")})
	require.NoError(t, err)

	_, err = gate.New(gate.Config{UpstreamURL: "webmap:8000"}, sessions, fakeExchanger{}, &fakeAuthorizer{})
	assert.Error(t, err)
}

func TestErrorAfterCommittedResponseIsIgnored(t *testing.T) {
	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/anything", nil), rec)

	gate.HTTPErrorHandler(errors.New("store unreachable"), c)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	rendered := rec.Body.String()
	assert.Equal(t, 1, strings.Count(logs.String(), "level=ERROR"))

	// the request logger already handled the error, echo hands it over a second time
	gate.HTTPErrorHandler(errors.New("store unreachable"), c)
	assert.Equal(t, rendered, rec.Body.String())
	assert.Equal(t, 1, strings.Count(logs.String(), "level=ERROR"), "a handled error is logged once")
}
