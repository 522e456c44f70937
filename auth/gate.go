package auth

import (
	"context"
	"errors"
	"fmt"
	"livecatalog-server/core"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// CookieName is the transport-level session cookie.
const CookieName = "user-session"

// Gate turns a session cookie into a live session. The cookie only carries
// the session id, signed as an HS256 token; expiry lives in the session
// store and slides forward on every validated access.
type Gate struct {
	sessions core.SessionStore
	secret   []byte
	ttl      time.Duration
}

func NewGate(sessions core.SessionStore, secret string, ttl time.Duration) *Gate {
	return &Gate{
		sessions: sessions,
		secret:   []byte(secret),
		ttl:      ttl,
	}
}

func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// Establish opens a new session for user and sets the cookie.
func (g *Gate) Establish(w http.ResponseWriter, r *http.Request, user *core.User) (*core.Session, error) {
	session := &core.Session{
		ID:       ulid.Make().String(),
		UserID:   user.ID,
		Username: user.Username,
	}
	if err := g.sessions.Create(r.Context(), session, g.ttl); err != nil {
		return nil, err
	}
	if err := g.Refresh(w, r, session); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"session_id": session.ID,
		"user_id":    user.ID,
	}).Info("Session established")
	return session, nil
}

// Resolve verifies a cookie value and validates the session behind it.
func (g *Gate) Resolve(ctx context.Context, value string) (*core.Session, error) {
	id, err := g.parse(value)
	if err != nil {
		return nil, err
	}
	return g.Validate(ctx, id)
}

// Validate checks a session id against the store and extends its window.
func (g *Gate) Validate(ctx context.Context, id string) (*core.Session, error) {
	if id == "" {
		return nil, core.ErrSessionInvalid
	}
	session, err := g.sessions.Touch(ctx, id, g.ttl)
	if err != nil {
		if errors.Is(err, core.ErrSessionInvalid) {
			logrus.WithField("session_id", id).Debug("Session rejected")
		}
		return nil, err
	}
	return session, nil
}

func (g *Gate) FromRequest(r *http.Request) (*core.Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, core.ErrSessionInvalid
	}
	return g.Resolve(r.Context(), cookie.Value)
}

// FromHeader resolves the session from raw handshake headers, such as the
// ones a Socket.IO client sends when upgrading.
func (g *Gate) FromHeader(ctx context.Context, header http.Header) (*core.Session, error) {
	r := &http.Request{Header: header}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, core.ErrSessionInvalid
	}
	return g.Resolve(ctx, cookie.Value)
}

// Refresh re-issues the cookie so the browser's copy rolls with the
// server-side window.
func (g *Gate) Refresh(w http.ResponseWriter, r *http.Request, session *core.Session) error {
	value, err := g.sign(session.ID)
	if err != nil {
		return fmt.Errorf("sign session cookie: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(g.ttl / time.Second),
		Expires:  time.Now().Add(g.ttl),
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Revoke destroys the session named by the request cookie, if any, and
// clears the cookie.
func (g *Gate) Revoke(w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if id, err := g.parse(cookie.Value); err == nil {
			if err := g.sessions.Destroy(r.Context(), id); err != nil {
				return err
			}
			logrus.WithField("session_id", id).Info("Session revoked")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (g *Gate) sign(id string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: id})
	return token.SignedString(g.secret)
}

func (g *Gate) parse(value string) (string, error) {
	if value == "" {
		return "", core.ErrSessionInvalid
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.ID == "" {
		return "", core.ErrSessionInvalid
	}
	return claims.ID, nil
}

func isSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
