package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/types"
)

// TerminalService is the till-side use-case surface.
type TerminalService interface {
	RegisterTerminal(ctx context.Context, registrationUUID uuid.UUID) (string, types.Terminal, error)
	AuthenticateTerminal(ctx context.Context, token string) (auth.Principal, error)
	LoginUser(ctx context.Context, userTagUID int64) (types.User, error)
	LogoutUser(ctx context.Context) error
}

// CashierProvisioner creates privileged users from a terminal.
type CashierProvisioner interface {
	CreateCashier(ctx context.Context, newUser types.NewUser) (types.User, error)
	CreateFinanzorga(ctx context.Context, newUser types.NewUser) (types.User, error)
}

// TerminalHandler provides the endpoints used by till devices.
type TerminalHandler struct {
	terminals TerminalService
	users     CashierProvisioner
}

func NewTerminalHandler(terminals TerminalService, users CashierProvisioner) *TerminalHandler {
	return &TerminalHandler{terminals: terminals, users: users}
}

// TerminalRouter registers terminal routes on the given router.
func TerminalRouter(r chi.Router, handler *TerminalHandler) {
	r.Post("/register", handler.Register)
	r.Group(func(r chi.Router) {
		r.Use(handler.RequireTerminal)
		r.Post("/login", handler.LoginUser)
		r.Post("/logout", handler.LogoutUser)
		r.Post("/cashiers", handler.CreateCashier)
		r.Post("/finanzorgas", handler.CreateFinanzorga)
	})
}

// RequireTerminal resolves the bearer terminal token into a principal.
func (h *TerminalHandler) RequireTerminal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		principal, err := h.terminals.AuthenticateTerminal(r.Context(), tokenString)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *TerminalHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterTerminalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	registrationUUID, err := uuid.Parse(strings.TrimSpace(req.RegistrationUUID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid registration_uuid")
		return
	}

	token, terminal, err := h.terminals.RegisterTerminal(r.Context(), registrationUUID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterTerminalResponse{Token: token, Terminal: terminal})
}

func (h *TerminalHandler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req TerminalLoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.terminals.LoginUser(r.Context(), req.UserTag)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *TerminalHandler) LogoutUser(w http.ResponseWriter, r *http.Request) {
	if err := h.terminals.LogoutUser(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TerminalHandler) CreateCashier(w http.ResponseWriter, r *http.Request) {
	h.provision(w, r, h.users.CreateCashier)
}

func (h *TerminalHandler) CreateFinanzorga(w http.ResponseWriter, r *http.Request) {
	h.provision(w, r, h.users.CreateFinanzorga)
}

func (h *TerminalHandler) provision(w http.ResponseWriter, r *http.Request, fn func(context.Context, types.NewUser) (types.User, error)) {
	var req NewUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := fn(r.Context(), req.toNewUser())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type RegisterTerminalRequest struct {
	RegistrationUUID string `json:"registration_uuid" validate:"required"`
}

type RegisterTerminalResponse struct {
	Token    string         `json:"token"`
	Terminal types.Terminal `json:"terminal"`
}

type TerminalLoginRequest struct {
	UserTag int64 `json:"user_tag" validate:"required"`
}
