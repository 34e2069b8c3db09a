package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/platform/logging"
)

// AuthError is the body of every authentication failure.
type AuthError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	CorrID    string `json:"corrId"`
	Retryable bool   `json:"retryable"`
}

// Authenticator resolves API keys to actors.
type Authenticator struct {
	keys    KeyStore
	users   UserLookup
	audit   AuditRecorder
	limiter *RateLimiter
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	chainMu sync.Mutex
}

// NewAuthenticator wires the middleware. audit may be nil.
func NewAuthenticator(keys KeyStore, users UserLookup, audit AuditRecorder, cfg Config, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{keys: keys, users: users, audit: audit, cfg: cfg, logger: logger, now: time.Now}
	if cfg.RateLimitPerMinute > 0 {
		a.limiter = NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	return a
}

// Middleware authenticates every request through it.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		corrID := correlationID(r)

		rawKey := extractAPIKey(r)
		if rawKey == "" {
			rawKey = r.Header.Get("X-API-Key")
		}
		if rawKey == "" {
			writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "API key required", corrID, false)
			a.record(ctx, r, corrID, "auth.missing_key", "", "")
			return
		}

		key, err := a.keys.ValidateKey(ctx, rawKey)
		if err != nil {
			a.handleKeyError(w, r, corrID, err)
			return
		}
		if key.RevokedAt != nil {
			writeAuthError(w, http.StatusUnauthorized, "KEY_REVOKED", "API key has been revoked", corrID, false)
			a.record(ctx, r, corrID, "auth.key_revoked", key.UserID, key.ID)
			return
		}
		if key.ExpiresAt != nil && a.now().After(*key.ExpiresAt) {
			writeAuthError(w, http.StatusUnauthorized, "KEY_EXPIRED", "API key has expired", corrID, false)
			a.record(ctx, r, corrID, "auth.key_expired", key.UserID, key.ID)
			return
		}

		if a.limiter != nil {
			if ok, retryAfter := a.limiter.Allow(key.ID); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeAuthError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", corrID, true)
				a.record(ctx, r, corrID, "auth.rate_limited", key.UserID, key.ID)
				return
			}
		}

		user, err := a.users.GetUser(ctx, key.UserID)
		if err != nil || !user.IsActive {
			writeAuthError(w, http.StatusForbidden, "USER_INACTIVE", "User account is not active", corrID, false)
			a.record(ctx, r, corrID, "auth.user_inactive", key.UserID, key.ID)
			return
		}

		principal := Principal{Actor: domain.ActorFromUser(user), KeyID: key.ID}
		go func() {
			if err := a.keys.UpdateLastUsed(context.Background(), key.ID); err != nil {
				a.logger.Error("update api key last used", zap.String("keyId", key.ID), zap.Error(err))
			}
		}()
		if a.cfg.EnableAuditLog {
			a.record(ctx, r, corrID, "auth.success", user.ID, key.ID)
		}
		logging.WithCorrelation(a.logger, corrID, user.ID).Debug("authenticated request",
			zap.String("keyId", key.ID), zap.String("role", string(user.Role)))

		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(ctx, principal)))
	})
}

// RequireCapability rejects authenticated callers whose role lacks c.
func RequireCapability(c domain.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := correlationID(r)
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", corrID, false)
				return
			}
			if !actor.Can(c) {
				writeAuthError(w, http.StatusForbidden, "INSUFFICIENT_CAPABILITY",
					fmt.Sprintf("Required capability: %s", c), corrID, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey supports "Bearer <key>", "ApiKey <key>" and a bare key.
func extractAPIKey(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	if v, ok := strings.CutPrefix(h, "ApiKey "); ok {
		return strings.TrimSpace(v)
	}
	return h
}

func (a *Authenticator) handleKeyError(w http.ResponseWriter, r *http.Request, corrID string, err error) {
	switch {
	case errors.Is(err, ErrInvalidKey):
		writeAuthError(w, http.StatusUnauthorized, "INVALID_KEY", "Invalid API key format", corrID, false)
		a.record(r.Context(), r, corrID, "auth.invalid_format", "", "")
	case errors.Is(err, ErrInvalidAPIKey):
		writeAuthError(w, http.StatusUnauthorized, "INVALID_KEY", "Invalid API key", corrID, false)
		a.record(r.Context(), r, corrID, "auth.invalid_key", "", "")
	default:
		a.logger.Error("api key validation failed", zap.String("correlationId", corrID), zap.Error(err))
		writeAuthError(w, http.StatusUnauthorized, "AUTH_FAILED", "Authentication failed", corrID, false)
		a.record(r.Context(), r, corrID, "auth.failed", "", "")
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message, corrID string, retryable bool) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set("X-Correlation-Id", corrID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(AuthError{Code: code, Message: message, CorrID: corrID, Retryable: retryable})
}

func (a *Authenticator) record(ctx context.Context, r *http.Request, corrID, action, userID, keyID string) {
	if a.audit == nil {
		return
	}
	entry := AuditLogEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		CorrID:    corrID,
		Action:    action,
		KeyID:     keyID,
		Timestamp: a.now().UTC(),
	}
	if r != nil {
		entry.IPAddress = clientIP(r)
		entry.UserAgent = r.UserAgent()
	}

	a.chainMu.Lock()
	defer a.chainMu.Unlock()
	var prevHash string
	if prev, ok, err := a.audit.Last(ctx); err == nil && ok {
		prevHash = prev.Hash
	}
	if err := a.audit.Record(ctx, SealAuditEntry(entry, prevHash)); err != nil {
		a.logger.Warn("record auth audit entry", zap.String("action", action), zap.Error(err))
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// correlationID prefers the id assigned by the request-id middleware.
func correlationID(r *http.Request) string {
	if id := logging.CorrelationIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Correlation-Id")
}
