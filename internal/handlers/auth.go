package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/types"
)

// SessionService is the session use-case surface used by AuthHandler.
type SessionService interface {
	Login(ctx context.Context, username, password string) (*types.LoginResult, error)
	Logout(ctx context.Context, token string) (bool, error)
	AuthenticateUser(ctx context.Context, token string) (types.User, error)
	GetCurrentUser(ctx context.Context) (types.User, error)
}

// AuthHandler provides login, logout and the current user.
type AuthHandler struct {
	sessions SessionService
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(sessions SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, sessions SessionService) {
	handler := NewAuthHandler(sessions)

	r.Post("/login", handler.Login)
	r.With(handler.RequireAuth).Post("/logout", handler.Logout)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
}

// RequireAuth resolves the bearer user token into a principal.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return RequireUser(h.sessions)(next)
}

// RequireUser constructs user-token middleware for other routers.
func RequireUser(sessions SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := sessions.AuthenticateUser(r.Context(), tokenString)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}

			ctx := auth.WithPrincipal(r.Context(), auth.Principal{User: &user})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Login verifies credentials and returns a token bound to a new session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if err := validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.sessions.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Logout ends the session of the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := bearerToken(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ok, err := h.sessions.Logout(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LogoutResponse{LoggedOut: ok})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.sessions.GetCurrentUser(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LogoutResponse struct {
	LoggedOut bool `json:"logged_out"`
}
