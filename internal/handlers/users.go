package handlers

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/storage"
	"github.com/stustapay/apiserver/types"
)

// UserService is the admin user use-case surface.
type UserService interface {
	CreateUser(ctx context.Context, user types.UserWithoutID, password string) (types.User, error)
	CreateUserWithTag(ctx context.Context, newUser types.NewUser) (types.User, error)
	PromoteToCashier(ctx context.Context, userID int64) (types.User, error)
	PromoteToFinanzorga(ctx context.Context, userID int64) (types.User, error)
	ListUsers(ctx context.Context) iter.Seq2[types.User, error]
	GetUser(ctx context.Context, id int64) (types.User, error)
	UpdateUser(ctx context.Context, id int64, user types.UserWithoutID) (types.User, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)
	LinkUserToCashierAccount(ctx context.Context, userID, accountID int64) (bool, error)
	LinkUserToTransportAccount(ctx context.Context, userID, accountID int64) (bool, error)
}

// UserExporter snapshots users into object storage.
type UserExporter interface {
	Export(ctx context.Context) (string, int, error)
}

// ExportStore reads exports back.
type ExportStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
}

const exportPrefix = "exports/"

// UserHandler provides HTTP handlers for user administration.
type UserHandler struct {
	users    UserService
	exporter UserExporter
	exports  ExportStore
}

// NewUserHandler constructs a handler. exporter and exports may be nil when
// no object storage is configured.
func NewUserHandler(users UserService, exporter UserExporter, exports ExportStore) *UserHandler {
	return &UserHandler{users: users, exporter: exporter, exports: exports}
}

// UserRouter registers user routes on the given router. Every route needs a
// user token; privilege checks happen in the service.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)

	r.Get("/", handler.ListUsers)
	r.Post("/", handler.CreateUser)
	r.Post("/from-tag", handler.CreateUserWithTag)
	r.Post("/exports", handler.ExportUsers)
	r.Get("/exports", handler.ListExports)
	r.Get("/exports/{exportName}", handler.DownloadExport)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.Put("/", handler.UpdateUser)
		r.Delete("/", handler.DeleteUser)
		r.Post("/promote-cashier", handler.PromoteToCashier)
		r.Post("/promote-finanzorga", handler.PromoteToFinanzorga)
		r.Put("/cashier-account", handler.LinkCashierAccount)
		r.Put("/transport-account", handler.LinkTransportAccount)
	})
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users := []types.User{}
	for user, err := range h.users.ListUsers(r.Context()) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		users = append(users, user)
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req UserUpsertRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.toUser(), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) CreateUserWithTag(w http.ResponseWriter, r *http.Request) {
	var req NewUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.CreateUserWithTag(r.Context(), req.toNewUser())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req UserUpsertRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.UpdateUser(r.Context(), id, req.toUser())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.users.DeleteUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) PromoteToCashier(w http.ResponseWriter, r *http.Request) {
	h.promote(w, r, h.users.PromoteToCashier)
}

func (h *UserHandler) PromoteToFinanzorga(w http.ResponseWriter, r *http.Request) {
	h.promote(w, r, h.users.PromoteToFinanzorga)
}

func (h *UserHandler) promote(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (types.User, error)) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := fn(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) LinkCashierAccount(w http.ResponseWriter, r *http.Request) {
	h.link(w, r, h.users.LinkUserToCashierAccount)
}

func (h *UserHandler) LinkTransportAccount(w http.ResponseWriter, r *http.Request) {
	h.link(w, r, h.users.LinkUserToTransportAccount)
}

func (h *UserHandler) link(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64, int64) (bool, error)) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req AccountLinkRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	linked, err := fn(r.Context(), id, req.AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !linked {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}

	key, count, err := h.exporter.Export(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ExportResponse{Key: key, Users: count})
}

// ListExports lists previous exports, newest first. Requires admin.
func (h *UserHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	if !h.exportsAllowed(w, r) {
		return
	}

	objects, err := h.exports.List(r.Context(), exportPrefix)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]ExportInfo, 0, len(objects))
	for _, obj := range objects {
		out = append(out, ExportInfo{
			Name:         strings.TrimPrefix(obj.Key, exportPrefix),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// DownloadExport streams a previous export. Requires admin.
func (h *UserHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	if !h.exportsAllowed(w, r) {
		return
	}

	name := strings.TrimSpace(chi.URLParam(r, "exportName"))
	if name == "" || strings.Contains(name, "/") || !strings.HasSuffix(name, ".jsonl") {
		writeError(w, http.StatusBadRequest, "invalid export name")
		return
	}

	reader, err := h.exports.Get(r.Context(), exportPrefix+name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func (h *UserHandler) exportsAllowed(w http.ResponseWriter, r *http.Request) bool {
	if h.exports == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return false
	}
	if _, err := auth.RequireUserPrivileges(r.Context(), types.PrivilegeAdmin); err != nil {
		writeServiceError(w, r, err)
		return false
	}
	return true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	if err := validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

type UserUpsertRequest struct {
	Name               string            `json:"name" validate:"required"`
	Description        *string           `json:"description"`
	Password           string            `json:"password,omitempty"`
	UserTagID          *int64            `json:"user_tag_id"`
	TransportAccountID *int64            `json:"transport_account_id"`
	CashierAccountID   *int64            `json:"cashier_account_id"`
	Privileges         []types.Privilege `json:"privileges" validate:"dive,oneof=admin finanzorga cashier"`
}

func (req UserUpsertRequest) toUser() types.UserWithoutID {
	privileges := types.Privileges(req.Privileges)
	if privileges == nil {
		privileges = types.Privileges{}
	}
	return types.UserWithoutID{
		Name:               strings.TrimSpace(req.Name),
		Description:        req.Description,
		UserTagID:          req.UserTagID,
		TransportAccountID: req.TransportAccountID,
		CashierAccountID:   req.CashierAccountID,
		Privileges:         privileges,
	}
}

type NewUserRequest struct {
	Name    string `json:"name" validate:"required"`
	UserTag int64  `json:"user_tag" validate:"required"`
}

func (req NewUserRequest) toNewUser() types.NewUser {
	return types.NewUser{Name: strings.TrimSpace(req.Name), UserTag: req.UserTag}
}

type AccountLinkRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

type ExportResponse struct {
	Key   string `json:"key"`
	Users int    `json:"users"`
}

type ExportInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}
