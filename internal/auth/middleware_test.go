package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/platform/logging"
	"github.com/yourorg/travelcore/internal/store"
)

type harness struct {
	keys  *MemoryKeyStore
	users *store.Memory
	audit *MemoryAuditRecorder
	auth  *Authenticator
	raw   map[string]string // userID -> raw key
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		keys:  NewMemoryKeyStore(cfg),
		users: store.NewMemory(),
		audit: NewMemoryAuditRecorder(0),
		raw:   map[string]string{},
	}
	for _, u := range []domain.User{
		{ID: "emp-1", Name: "Asha", Role: domain.RoleEmployee, IsActive: true},
		{ID: "adm-1", Name: "Root", Role: domain.RoleAdmin, IsActive: true},
		{ID: "gone-1", Name: "Left", Role: domain.RoleEmployee},
	} {
		require.NoError(t, h.users.PutUser(ctx, u))
		_, raw, err := h.keys.CreateKey(ctx, u.ID, "test", nil)
		require.NoError(t, err)
		h.raw[u.ID] = raw
	}
	h.auth = NewAuthenticator(h.keys, h.users, h.audit, cfg, nil)
	return h
}

func echoActor(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(p)
}

func (h *harness) do(handler http.Handler, rawKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/travel/my", nil)
	if rawKey != "" {
		req.Header.Set("Authorization", "Bearer "+rawKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeAuthError(t *testing.T, rec *httptest.ResponseRecorder) AuthError {
	t.Helper()
	var body AuthError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestMiddleware_ResolvesActor(t *testing.T) {
	cfg := fastBcrypt
	cfg.EnableAuditLog = true
	h := newHarness(t, cfg)

	rec := h.do(h.auth.Middleware(http.HandlerFunc(echoActor)), h.raw["emp-1"])
	require.Equal(t, http.StatusOK, rec.Code)

	var p Principal
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "emp-1", p.ID)
	assert.Equal(t, "Asha", p.Name)
	assert.Equal(t, domain.RoleEmployee, p.Role)
	assert.NotEmpty(t, p.KeyID)

	entries := h.audit.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "auth.success", entries[len(entries)-1].Action)
}

func TestMiddleware_Rejections(t *testing.T) {
	h := newHarness(t, fastBcrypt)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, expiredRaw, err := h.keys.CreateKey(ctx, "emp-1", "old", &past)
	require.NoError(t, err)
	revoked, revokedRaw, err := h.keys.CreateKey(ctx, "emp-1", "revoked", nil)
	require.NoError(t, err)
	require.NoError(t, h.keys.RevokeKey(ctx, revoked.ID))

	tests := []struct {
		name   string
		key    string
		status int
		code   string
		action string
	}{
		{"missing", "", http.StatusUnauthorized, "AUTH_REQUIRED", "auth.missing_key"},
		{"bad format", "not-a-key", http.StatusUnauthorized, "INVALID_KEY", "auth.invalid_format"},
		{"unknown", KeyPrefix + "abcdefghijklmnop", http.StatusUnauthorized, "INVALID_KEY", "auth.invalid_key"},
		{"expired", expiredRaw, http.StatusUnauthorized, "KEY_EXPIRED", "auth.key_expired"},
		{"revoked", revokedRaw, http.StatusUnauthorized, "KEY_REVOKED", "auth.key_revoked"},
		{"inactive user", h.raw["gone-1"], http.StatusForbidden, "USER_INACTIVE", "auth.user_inactive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
			rec := h.do(h.auth.Middleware(next), tt.key)

			assert.False(t, called)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeAuthError(t, rec).Code)
			entries := h.audit.Entries()
			assert.Equal(t, tt.action, entries[len(entries)-1].Action)
		})
	}
}

func TestMiddleware_AuditEntriesFormChain(t *testing.T) {
	h := newHarness(t, fastBcrypt)
	mw := h.auth.Middleware(http.HandlerFunc(echoActor))
	h.do(mw, "")
	h.do(mw, "nope")
	h.do(mw, "")

	entries := h.audit.Entries()
	require.Len(t, entries, 3)
	assert.Empty(t, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PrevHash)
	}
	require.NoError(t, h.audit.Verify())
}

func TestVerifyAuditChain_DetectsTampering(t *testing.T) {
	h := newHarness(t, fastBcrypt)
	mw := h.auth.Middleware(http.HandlerFunc(echoActor))
	h.do(mw, "")
	h.do(mw, "nope")
	h.do(mw, "")
	entries := h.audit.Entries()
	require.Len(t, entries, 3)
	require.NoError(t, VerifyAuditChain(entries))

	edited := append([]AuditLogEntry(nil), entries...)
	edited[1].Action = "auth.success"
	assert.ErrorIs(t, VerifyAuditChain(edited), ErrAuditChainBroken)

	dropped := []AuditLogEntry{entries[0], entries[2]}
	assert.ErrorIs(t, VerifyAuditChain(dropped), ErrAuditChainBroken)

	reordered := []AuditLogEntry{entries[1], entries[0], entries[2]}
	assert.ErrorIs(t, VerifyAuditChain(reordered), ErrAuditChainBroken)
}

func TestMemoryAuditRecorder_KeepsNewestEntries(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryAuditRecorder(3)
	prev := ""
	var ids []string
	for i := 0; i < 10; i++ {
		e := SealAuditEntry(AuditLogEntry{ID: fmt.Sprintf("e%d", i), Action: "auth.success", Timestamp: time.Unix(int64(i), 0).UTC()}, prev)
		require.NoError(t, r.Record(ctx, e))
		prev = e.Hash
		ids = append(ids, e.ID)
	}

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, ids[7:], []string{entries[0].ID, entries[1].ID, entries[2].ID})
	last, ok, err := r.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "e9", last.ID)
	assert.NoError(t, r.Verify())
}

func TestMiddleware_RateLimitPerKey(t *testing.T) {
	cfg := fastBcrypt
	cfg.RateLimitPerMinute = 2
	h := newHarness(t, cfg)
	mw := h.auth.Middleware(http.HandlerFunc(echoActor))

	assert.Equal(t, http.StatusOK, h.do(mw, h.raw["emp-1"]).Code)
	assert.Equal(t, http.StatusOK, h.do(mw, h.raw["emp-1"]).Code)

	rec := h.do(mw, h.raw["emp-1"])
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	body := decodeAuthError(t, rec)
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.True(t, body.Retryable)

	assert.Equal(t, http.StatusOK, h.do(mw, h.raw["adm-1"]).Code)
}

func TestMiddleware_UsesContextCorrelationID(t *testing.T) {
	h := newHarness(t, fastBcrypt)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.ContextWithCorrelationID(req.Context(), "corr-42"))
	rec := httptest.NewRecorder()
	h.auth.Middleware(http.HandlerFunc(echoActor)).ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-Id"))
	assert.Equal(t, "corr-42", decodeAuthError(t, rec).CorrID)
}

func TestRequireCapability(t *testing.T) {
	h := newHarness(t, fastBcrypt)
	gated := h.auth.Middleware(RequireCapability(domain.CapManagePolicy)(http.HandlerFunc(echoActor)))

	rec := h.do(gated, h.raw["emp-1"])
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "INSUFFICIENT_CAPABILITY", decodeAuthError(t, rec).Code)

	assert.Equal(t, http.StatusOK, h.do(gated, h.raw["adm-1"]).Code)

	rec = httptest.NewRecorder()
	RequireCapability(domain.CapManagePolicy)(http.HandlerFunc(echoActor)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_KeyManagement(t *testing.T) {
	h := newHarness(t, fastBcrypt)
	handler := NewHandler(h.keys, h.users, h.auth, nil)
	r := chi.NewRouter()
	r.Use(h.auth.Middleware)
	r.Route("/auth/keys", handler.Routes)

	call := func(method, path, rawKey, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "ApiKey "+rawKey)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodPost, "/auth/keys", h.raw["emp-1"], `{"name":"ci"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created CreateAPIKeyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.True(t, strings.HasPrefix(created.RawKey, KeyPrefix))
	assert.Equal(t, "emp-1", created.Key.UserID)

	rec = call(http.MethodPost, "/auth/keys", h.raw["emp-1"], `{"name":"x","userId":"adm-1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(http.MethodPost, "/auth/keys", h.raw["adm-1"], `{"name":"for asha","userId":"emp-1"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = call(http.MethodPost, "/auth/keys", h.raw["emp-1"], `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(http.MethodGet, "/auth/keys", h.raw["emp-1"], "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListAPIKeysResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list.Keys, 3)

	rec = call(http.MethodDelete, "/auth/keys/"+created.Key.ID, h.raw["adm-1"], "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = call(http.MethodGet, "/auth/keys", created.RawKey, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	adminKeys, err := h.keys.ListKeys(context.Background(), "adm-1")
	require.NoError(t, err)
	rec = call(http.MethodDelete, "/auth/keys/"+adminKeys[0].ID, h.raw["emp-1"], "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
