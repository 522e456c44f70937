package auth

import (
	"context"
	"errors"
	"livecatalog-server/core"
	"livecatalog-server/stores/sessions/memory"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type brokenSessions struct{}

func (brokenSessions) Create(context.Context, *core.Session, time.Duration) error {
	return core.ErrSessionStoreUnavailable
}

func (brokenSessions) Touch(context.Context, string, time.Duration) (*core.Session, error) {
	return nil, core.ErrSessionStoreUnavailable
}

func (brokenSessions) Destroy(context.Context, string) error {
	return core.ErrSessionStoreUnavailable
}

func newTestGate(t *testing.T) (*Gate, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewSessionStore()
	store.SetClock(clock.Now)
	return NewGate(store, "test-secret", time.Minute), clock
}

func establish(t *testing.T, gate *Gate) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	_, err := gate.Establish(rec, r, &core.User{ID: "u1", Username: "alice"})
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestEstablishSetsCookie(t *testing.T) {
	req := require.New(t)
	gate, _ := newTestGate(t)

	cookie := establish(t, gate)
	req.Equal(CookieName, cookie.Name)
	req.True(cookie.HttpOnly)
	req.Equal("/", cookie.Path)
	req.Equal(60, cookie.MaxAge)
	req.Equal(http.SameSiteLaxMode, cookie.SameSite)

	session, err := gate.Resolve(context.Background(), cookie.Value)
	req.NoError(err)
	req.Equal("u1", session.UserID)
	req.Equal("alice", session.Username)
}

func TestSessionSlidesOnUse(t *testing.T) {
	req := require.New(t)
	gate, clock := newTestGate(t)
	cookie := establish(t, gate)

	// Each validation pushes the expiry forward, so a session touched every
	// 45s outlives the 60s window.
	for i := 0; i < 3; i++ {
		clock.Advance(45 * time.Second)
		_, err := gate.Resolve(context.Background(), cookie.Value)
		req.NoError(err, "touch %d", i)
	}

	clock.Advance(61 * time.Second)
	_, err := gate.Resolve(context.Background(), cookie.Value)
	req.ErrorIs(err, core.ErrSessionInvalid)
}

func TestResolveRejectsTamperedCookie(t *testing.T) {
	req := require.New(t)
	gate, _ := newTestGate(t)
	cookie := establish(t, gate)

	_, err := gate.Resolve(context.Background(), cookie.Value+"x")
	req.ErrorIs(err, core.ErrSessionInvalid)

	_, err = gate.Resolve(context.Background(), "")
	req.ErrorIs(err, core.ErrSessionInvalid)

	other := NewGate(memory.NewSessionStore(), "other-secret", time.Minute)
	_, err = other.Resolve(context.Background(), cookie.Value)
	req.ErrorIs(err, core.ErrSessionInvalid)
}

func TestFromHeader(t *testing.T) {
	req := require.New(t)
	gate, _ := newTestGate(t)
	cookie := establish(t, gate)

	header := http.Header{}
	header.Add("Cookie", "theme=dark; "+cookie.Name+"="+cookie.Value)
	session, err := gate.FromHeader(context.Background(), header)
	req.NoError(err)
	req.Equal("alice", session.Username)

	_, err = gate.FromHeader(context.Background(), http.Header{})
	req.ErrorIs(err, core.ErrSessionInvalid)
}

func TestRevoke(t *testing.T) {
	req := require.New(t)
	gate, _ := newTestGate(t)
	cookie := establish(t, gate)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r.AddCookie(cookie)
	req.NoError(gate.Revoke(rec, r))

	cleared := rec.Result().Cookies()
	req.Len(cleared, 1)
	req.Equal(-1, cleared[0].MaxAge)

	_, err := gate.Resolve(context.Background(), cookie.Value)
	req.ErrorIs(err, core.ErrSessionInvalid)
}

func TestRequireSession(t *testing.T) {
	gate, _ := newTestGate(t)
	cookie := establish(t, gate)

	handler := gate.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok || session.Username != "alice" {
			t.Errorf("session missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.AddCookie(cookie)
		handler.ServeHTTP(rec, r)

		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Len(t, rec.Result().Cookies(), 1, "cookie is re-issued")
	})

	t.Run("missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("store unavailable", func(t *testing.T) {
		broken := NewGate(brokenSessions{}, "test-secret", time.Minute)
		h := broken.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("handler should not run")
		}))
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		r.AddCookie(cookie)
		h.ServeHTTP(rec, r)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestValidateUnavailableStore(t *testing.T) {
	gate := NewGate(brokenSessions{}, "test-secret", time.Minute)
	_, err := gate.Validate(context.Background(), "abc")
	if !errors.Is(err, core.ErrSessionStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
