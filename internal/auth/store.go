package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrKeyNotFound   = errors.New("API key not found")
)

// MemoryKeyStore keeps hashed keys in process, indexed by their lookup prefix
// so validation only verifies hashes of matching candidates.
type MemoryKeyStore struct {
	mu       sync.RWMutex
	cfg      Config
	keys     map[string]*APIKey  // keyID -> APIKey
	byPrefix map[string][]string // prefix -> keyIDs
	now      func() time.Time
}

func NewMemoryKeyStore(cfg Config) *MemoryKeyStore {
	return &MemoryKeyStore{
		cfg:      cfg,
		keys:     make(map[string]*APIKey),
		byPrefix: make(map[string][]string),
		now:      time.Now,
	}
}

func (s *MemoryKeyStore) ValidateKey(_ context.Context, rawKey string) (APIKey, error) {
	prefix := ExtractKeyPrefix(rawKey)
	if prefix == "" {
		return APIKey{}, ErrInvalidKey
	}
	s.mu.RLock()
	candidates := make([]APIKey, 0, len(s.byPrefix[prefix]))
	for _, id := range s.byPrefix[prefix] {
		candidates = append(candidates, *s.keys[id])
	}
	s.mu.RUnlock()

	// hashing is slow, so verify outside the lock
	for _, key := range candidates {
		if VerifyKey(rawKey, key.KeyHash) {
			return key, nil
		}
	}
	return APIKey{}, ErrInvalidAPIKey
}

func (s *MemoryKeyStore) CreateKey(ctx context.Context, userID, name string, expiresAt *time.Time) (APIKey, string, error) {
	rawKey, _, err := GenerateAPIKey()
	if err != nil {
		return APIKey{}, "", err
	}
	key, err := s.Import(ctx, userID, name, rawKey, expiresAt)
	if err != nil {
		return APIKey{}, "", err
	}
	return key, rawKey, nil
}

// Import stores a caller-supplied raw key, used for seeded development keys.
func (s *MemoryKeyStore) Import(_ context.Context, userID, name, rawKey string, expiresAt *time.Time) (APIKey, error) {
	if userID == "" {
		return APIKey{}, fmt.Errorf("user id is required")
	}
	prefix := ExtractKeyPrefix(rawKey)
	if prefix == "" {
		return APIKey{}, ErrInvalidKey
	}
	hash, err := HashKey(rawKey, s.cfg)
	if err != nil {
		return APIKey{}, err
	}
	key := &APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyPrefix: prefix,
		KeyHash:   hash,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.ID] = key
	s.byPrefix[prefix] = append(s.byPrefix[prefix], key.ID)
	return public(*key), nil
}

func (s *MemoryKeyStore) GetKey(_ context.Context, keyID string) (APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return APIKey{}, ErrKeyNotFound
	}
	return public(*key), nil
}

func (s *MemoryKeyStore) RevokeKey(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return ErrKeyNotFound
	}
	if key.RevokedAt == nil {
		now := s.now().UTC()
		key.RevokedAt = &now
	}
	return nil
}

// ListKeys returns a user's keys, oldest first, without hashes.
func (s *MemoryKeyStore) ListKeys(_ context.Context, userID string) ([]APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := []APIKey{}
	for _, key := range s.keys {
		if key.UserID == userID {
			keys = append(keys, public(*key))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (s *MemoryKeyStore) UpdateLastUsed(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil
	}
	now := s.now().UTC()
	key.LastUsedAt = &now
	return nil
}

func public(k APIKey) APIKey {
	k.KeyHash = ""
	return k
}

// DefaultAuditLimit is how many entries MemoryAuditRecorder retains.
const DefaultAuditLimit = 10000

// MemoryAuditRecorder is an in-process audit chain holding the newest limit
// entries. Older entries are dropped; the retained tail still verifies.
type MemoryAuditRecorder struct {
	mu      sync.RWMutex
	entries []AuditLogEntry
	limit   int
}

func NewMemoryAuditRecorder(limit int) *MemoryAuditRecorder {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	return &MemoryAuditRecorder{limit: limit}
}

func (r *MemoryAuditRecorder) Record(_ context.Context, entry AuditLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	// compact at twice the limit so trimming stays amortized
	if len(r.entries) >= 2*r.limit {
		r.entries = append([]AuditLogEntry(nil), r.entries[len(r.entries)-r.limit:]...)
	}
	return nil
}

func (r *MemoryAuditRecorder) Last(_ context.Context) (AuditLogEntry, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return AuditLogEntry{}, false, nil
	}
	return r.entries[len(r.entries)-1], true, nil
}

// Entries returns the retained chain, oldest first.
func (r *MemoryAuditRecorder) Entries() []AuditLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tail := r.entries
	if len(tail) > r.limit {
		tail = tail[len(tail)-r.limit:]
	}
	return append([]AuditLogEntry{}, tail...)
}

// Verify checks the retained chain for tampering.
func (r *MemoryAuditRecorder) Verify() error {
	return VerifyAuditChain(r.Entries())
}

// Seed imports development keys, in user id order for stable key ids in logs.
func (s *MemoryKeyStore) Seed(ctx context.Context, seeds map[string]string) error {
	raws := make([]string, 0, len(seeds))
	for raw := range seeds {
		raws = append(raws, raw)
	}
	sort.Slice(raws, func(i, j int) bool { return seeds[raws[i]] < seeds[raws[j]] })
	for _, raw := range raws {
		if _, err := s.Import(ctx, seeds[raw], "seed", raw, nil); err != nil {
			return fmt.Errorf("seed key for %s: %w", seeds[raw], err)
		}
	}
	return nil
}
