package auth

import (
	"context"
	"time"

	"github.com/yourorg/travelcore/internal/domain"
)

type actorContextKey struct{}

// APIKey is a stored key. The raw key is never persisted.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"keyPrefix"` // first 8 chars after tc_
	KeyHash    string     `json:"-"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
}

// Principal is the authenticated caller: the workflow actor plus the key it used.
type Principal struct {
	domain.Actor
	KeyID string `json:"keyId"`
}

// AuditLogEntry is one authentication event. Entries form a hash chain.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	CorrID    string    `json:"corrId"`
	Action    string    `json:"action"` // auth.success, auth.invalid_key, key.created, ...
	KeyID     string    `json:"keyId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
}

type KeyStore interface {
	// ValidateKey returns the key matching rawKey, including expired and revoked ones.
	ValidateKey(ctx context.Context, rawKey string) (APIKey, error)
	// CreateKey returns the raw key once; only its hash is kept.
	CreateKey(ctx context.Context, userID, name string, expiresAt *time.Time) (APIKey, string, error)
	GetKey(ctx context.Context, keyID string) (APIKey, error)
	RevokeKey(ctx context.Context, keyID string) error
	ListKeys(ctx context.Context, userID string) ([]APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// UserLookup resolves a key's owner.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, entry AuditLogEntry) error
	// Last returns the newest entry, for chain hashing.
	Last(ctx context.Context) (AuditLogEntry, bool, error)
}

func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, actorContextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(actorContextKey{}).(Principal)
	return p, ok
}

// ActorFromContext returns the workflow actor of an authenticated request.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	p, ok := PrincipalFromContext(ctx)
	return p.Actor, ok
}
