package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
)

// Handler serves self-service API key management.
type Handler struct {
	keys   KeyStore
	users  UserLookup
	auth   *Authenticator
	logger *zap.Logger
}

func NewHandler(keys KeyStore, users UserLookup, a *Authenticator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{keys: keys, users: users, auth: a, logger: logger}
}

// Routes mounts under /auth/keys. The caller must already be authenticated.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.ListAPIKeys)
	r.Post("/", h.CreateAPIKey)
	r.Delete("/{keyID}", h.RevokeAPIKey)
}

type CreateAPIKeyRequest struct {
	Name string `json:"name"`
	// UserID issues the key for another user; key managers only.
	UserID    string     `json:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CreateAPIKeyResponse carries the raw key, shown exactly once.
type CreateAPIKeyResponse struct {
	Key    APIKey `json:"key"`
	RawKey string `json:"rawKey"`
}

type ListAPIKeysResponse struct {
	Keys []APIKey `json:"keys"`
}

// CreateAPIKey handles POST /auth/keys
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", corrID, false)
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthError(w, http.StatusBadRequest, "BAD_JSON", "Invalid JSON body", corrID, false)
		return
	}
	if req.Name == "" {
		writeAuthError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required", corrID, false)
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeAuthError(w, http.StatusBadRequest, "VALIDATION_ERROR", "expiresAt must be in the future", corrID, false)
		return
	}

	owner := p.ID
	if req.UserID != "" && req.UserID != p.ID {
		if !p.Can(domain.CapManageKeys) {
			writeAuthError(w, http.StatusForbidden, "INSUFFICIENT_CAPABILITY", "Cannot issue keys for other users", corrID, false)
			return
		}
		u, err := h.users.GetUser(r.Context(), req.UserID)
		if err != nil || !u.IsActive {
			writeAuthError(w, http.StatusNotFound, "NOT_FOUND", "User not found", corrID, false)
			return
		}
		owner = u.ID
	}

	key, raw, err := h.keys.CreateKey(r.Context(), owner, req.Name, req.ExpiresAt)
	if err != nil {
		h.logger.Error("create api key", zap.String("correlationId", corrID), zap.Error(err))
		writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key", corrID, false)
		return
	}
	if h.auth != nil {
		h.auth.record(r.Context(), r, corrID, "key.created", owner, key.ID)
	}
	h.logger.Info("api key created", zap.String("keyId", key.ID), zap.String("userId", owner), zap.String("actorId", p.ID))
	writeJSON(w, http.StatusCreated, corrID, CreateAPIKeyResponse{Key: key, RawKey: raw})
}

// ListAPIKeys handles GET /auth/keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", corrID, false)
		return
	}
	userID := p.ID
	if q := r.URL.Query().Get("userId"); q != "" && q != p.ID {
		if !p.Can(domain.CapManageKeys) {
			writeAuthError(w, http.StatusForbidden, "INSUFFICIENT_CAPABILITY", "Cannot list keys of other users", corrID, false)
			return
		}
		userID = q
	}
	keys, err := h.keys.ListKeys(r.Context(), userID)
	if err != nil {
		writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list API keys", corrID, false)
		return
	}
	writeJSON(w, http.StatusOK, corrID, ListAPIKeysResponse{Keys: keys})
}

// RevokeAPIKey handles DELETE /auth/keys/{keyID}
func (h *Handler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	corrID := correlationID(r)
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", corrID, false)
		return
	}
	keyID := chi.URLParam(r, "keyID")
	key, err := h.keys.GetKey(r.Context(), keyID)
	if err != nil || (key.UserID != p.ID && !p.Can(domain.CapManageKeys)) {
		// other users' keys are indistinguishable from missing ones
		writeAuthError(w, http.StatusNotFound, "NOT_FOUND", "API key not found", corrID, false)
		return
	}
	if err := h.keys.RevokeKey(r.Context(), keyID); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			writeAuthError(w, http.StatusNotFound, "NOT_FOUND", "API key not found", corrID, false)
			return
		}
		writeAuthError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke API key", corrID, false)
		return
	}
	if h.auth != nil {
		h.auth.record(r.Context(), r, corrID, "key.revoked", key.UserID, keyID)
	}
	h.logger.Info("api key revoked", zap.String("keyId", keyID), zap.String("actorId", p.ID))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, corrID string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
