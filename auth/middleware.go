package auth

import (
	"context"
	"errors"
	"livecatalog-server/core"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type contextKey string

const sessionContextKey = contextKey("session")

// RequireSession rejects requests without a valid session and rolls the
// cookie on the ones that pass.
func (g *Gate) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := g.FromRequest(r)
		if err != nil {
			if errors.Is(err, core.ErrSessionStoreUnavailable) {
				logrus.WithError(err).Error("Session store unavailable")
				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, map[string]string{"error": "Session store unavailable"})
				return
			}
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Valid session is required"})
			return
		}

		if err := g.Refresh(w, r, session); err != nil {
			logrus.WithError(err).Warn("Failed to refresh session cookie")
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func SessionFromContext(ctx context.Context) (*core.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(*core.Session)
	return session, ok
}
