package accounts

import (
	"encoding/json"
	"errors"
	"livecatalog-server/auth"
	"livecatalog-server/core"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	UserResponse struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

// HandleRegister creates a user and signs them in.
func HandleRegister(users core.UserStore, gate *auth.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := decodeCredentials(w, r)
		if !ok {
			return
		}
		log := logrus.WithField("username", creds.Username)

		hash, err := auth.HashPassword(creds.Password)
		if err != nil {
			log.WithError(err).Error("Failed to hash password")
			renderError(w, r, http.StatusInternalServerError, "Failed to create user")
			return
		}

		user, err := users.CreateUser(r.Context(), creds.Username, hash)
		if err != nil {
			if errors.Is(err, core.ErrUserExists) {
				renderError(w, r, http.StatusConflict, core.ErrUserExists.Error())
				return
			}
			log.WithError(err).Error("Failed to create user")
			renderError(w, r, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
			return
		}

		if _, err := gate.Establish(w, r, user); err != nil {
			log.WithError(err).Error("Failed to establish session")
			renderError(w, r, http.StatusServiceUnavailable, core.ErrSessionStoreUnavailable.Error())
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, UserResponse{ID: user.ID, Username: user.Username})
	}
}

// HandleLogin checks credentials and opens a session.
func HandleLogin(users core.UserStore, gate *auth.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, ok := decodeCredentials(w, r)
		if !ok {
			return
		}
		log := logrus.WithField("username", creds.Username)

		user, err := users.FindUserByUsername(r.Context(), creds.Username)
		if err != nil {
			if errors.Is(err, core.ErrUserNotFound) {
				log.Warn("Login for unknown user")
				renderError(w, r, http.StatusUnauthorized, core.ErrInvalidCredentials.Error())
				return
			}
			log.WithError(err).Error("Failed to look up user")
			renderError(w, r, http.StatusServiceUnavailable, core.ErrStorageUnavailable.Error())
			return
		}

		match, err := auth.ComparePassword(creds.Password, user.PasswordHash)
		if err != nil || !match {
			log.Warn("Login with wrong password")
			renderError(w, r, http.StatusUnauthorized, core.ErrInvalidCredentials.Error())
			return
		}

		if _, err := gate.Establish(w, r, user); err != nil {
			log.WithError(err).Error("Failed to establish session")
			renderError(w, r, http.StatusServiceUnavailable, core.ErrSessionStoreUnavailable.Error())
			return
		}

		render.JSON(w, r, UserResponse{ID: user.ID, Username: user.Username})
	}
}

func HandleLogout(gate *auth.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := gate.Revoke(w, r); err != nil {
			logrus.WithError(err).Error("Failed to revoke session")
			renderError(w, r, http.StatusServiceUnavailable, core.ErrSessionStoreUnavailable.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleMe reports the signed-in user. Mount behind Gate.RequireSession.
func HandleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := auth.SessionFromContext(r.Context())
		if !ok {
			renderError(w, r, http.StatusUnauthorized, core.ErrSessionInvalid.Error())
			return
		}
		render.JSON(w, r, UserResponse{ID: session.UserID, Username: session.Username})
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, bool) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		logrus.WithError(err).Warn("Failed to decode credentials")
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return creds, false
	}
	if err := auth.ValidateCredentials(creds); err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return creds, false
	}
	return creds, true
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}
