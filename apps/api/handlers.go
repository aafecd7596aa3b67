package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mahaj/travelchat/pkg/auth"
	"github.com/mahaj/travelchat/pkg/db"
	"github.com/mahaj/travelchat/pkg/model"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UserRepo is the part of db.UserStore the API needs.
type UserRepo interface {
	Upsert(ctx context.Context, user model.UserIdentity) error
	Get(ctx context.Context, id string) (model.UserIdentity, error)
	Search(ctx context.Context, query string, page, limit int) ([]model.UserIdentity, int, error)
}

// FollowRepo is the part of db.FollowStore the API needs.
type FollowRepo interface {
	Follow(ctx context.Context, userID, targetID string) error
	Unfollow(ctx context.Context, userID, targetID string) error
	Following(ctx context.Context, userID string) ([]model.UserIdentity, error)
	Followers(ctx context.Context, userID string) ([]model.UserIdentity, error)
}

type Handler struct {
	users   UserRepo
	follows FollowRepo
	issuer  *auth.Issuer
	logger  *zap.Logger
}

func NewHandler(users UserRepo, follows FollowRepo, issuer *auth.Issuer, logger *zap.Logger) *Handler {
	return &Handler{users: users, follows: follows, issuer: issuer, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type LoginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

type LoginResponse struct {
	Token string             `json:"token"`
	User  model.UserIdentity `json:"user"`
}

// Login registers or refreshes the user and issues a token. There is no
// password; the API trusts the caller's user id.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.ContainsAny(req.UserID, ":/") {
		writeError(w, http.StatusBadRequest, "user_id is required and may not contain ':' or '/'")
		return
	}

	user, err := h.users.Get(r.Context(), req.UserID)
	if err != nil && !errors.Is(err, db.ErrUserNotFound) {
		h.logger.Error("Failed to load user", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	user.ID = req.UserID
	if req.DisplayName != "" {
		user.DisplayName = req.DisplayName
	}
	if req.Handle != "" {
		user.Handle = req.Handle
	}
	if user.DisplayName == "" {
		user.DisplayName = user.ID
	}
	if err := h.users.Upsert(r.Context(), user); err != nil {
		h.logger.Error("Failed to save user", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save user")
		return
	}

	token, err := h.issuer.GenerateToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	h.logger.Info("User logged in", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

type usersResponse struct {
	Users []model.UserIdentity `json:"users"`
}

func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	h.listEdges(w, r, h.follows.Following)
}

func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.listEdges(w, r, h.follows.Followers)
}

func (h *Handler) listEdges(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]model.UserIdentity, error)) {
	id := chi.URLParam(r, "id")
	if _, err := h.users.Get(r.Context(), id); err != nil {
		h.storeError(w, "user", id, err)
		return
	}

	users, err := list(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list follow edges", zap.String("user_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.UserIdentity{}
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: users})
}

func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, targetID, ok := h.edge(w, r)
	if !ok {
		return
	}
	if err := h.follows.Follow(r.Context(), userID, targetID); err != nil {
		h.logger.Error("Failed to follow", zap.String("user_id", userID), zap.String("target_id", targetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to follow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, targetID, ok := h.edge(w, r)
	if !ok {
		return
	}
	if err := h.follows.Unfollow(r.Context(), userID, targetID); err != nil {
		h.logger.Error("Failed to unfollow", zap.String("user_id", userID), zap.String("target_id", targetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unfollow")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// edge validates a follow mutation. Only the authenticated user may change
// their own edges, and the target must exist.
func (h *Handler) edge(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	userID, targetID := chi.URLParam(r, "id"), chi.URLParam(r, "target")
	if userID != claims.UserID {
		writeError(w, http.StatusForbidden, "cannot change another user's follows")
		return "", "", false
	}
	if userID == targetID {
		writeError(w, http.StatusBadRequest, "cannot follow yourself")
		return "", "", false
	}
	if _, err := h.users.Get(r.Context(), targetID); err != nil {
		h.storeError(w, "user", targetID, err)
		return "", "", false
	}
	return userID, targetID, true
}

type searchResponse struct {
	Users   []model.UserIdentity `json:"users"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
	Total   int                  `json:"total"`
	HasMore bool                 `json:"has_more"`
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(q.Get("limit"), defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	users, total, err := h.users.Search(r.Context(), q.Get("q"), page, limit)
	if err != nil {
		h.logger.Error("Failed to search users", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search users")
		return
	}
	if users == nil {
		users = []model.UserIdentity{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Users:   users,
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: page*limit < total,
	})
}

func (h *Handler) storeError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, db.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	h.logger.Error("Store lookup failed", zap.String("id", id), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
