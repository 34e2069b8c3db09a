package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type HashAlgorithm string

const (
	AlgorithmBcrypt HashAlgorithm = "bcrypt"
	AlgorithmArgon2 HashAlgorithm = "argon2"
)

var (
	ErrInvalidKey = errors.New("invalid API key format")
	// ErrAuditChainBroken means an audit entry was altered, dropped or reordered.
	ErrAuditChainBroken = errors.New("audit chain broken")
)

// KeyPrefix is prepended to all API keys for easy identification.
const KeyPrefix = "tc_"

const prefixLen = 8

// GenerateAPIKey returns tc_<base64url(32 random bytes)> and its lookup prefix.
func GenerateAPIKey() (rawKey, prefix string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("generate random key: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(keyBytes)
	return KeyPrefix + encoded, encoded[:prefixLen], nil
}

// HashKey hashes an API key using the configured algorithm. Unknown algorithms fall back to bcrypt.
func HashKey(rawKey string, cfg Config) (string, error) {
	keyData, ok := strings.CutPrefix(rawKey, KeyPrefix)
	if !ok || keyData == "" {
		return "", ErrInvalidKey
	}
	if HashAlgorithm(cfg.APIKeyHashAlgorithm) == AlgorithmArgon2 {
		return hashArgon2(keyData, cfg)
	}
	return hashBcrypt(keyData, cfg.BcryptCost)
}

// VerifyKey detects the algorithm from the stored hash.
func VerifyKey(rawKey, storedHash string) bool {
	keyData, ok := strings.CutPrefix(rawKey, KeyPrefix)
	if !ok {
		return false
	}
	switch {
	case strings.HasPrefix(storedHash, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(keyData)) == nil
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return verifyArgon2(keyData, storedHash)
	default:
		return false
	}
}

func hashBcrypt(data string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(data), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

func hashArgon2(data string, cfg Config) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(data), salt, cfg.Argon2Time, cfg.Argon2Memory, cfg.Argon2Threads, 32)

	// $argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, cfg.Argon2Memory, cfg.Argon2Time, cfg.Argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

func verifyArgon2(data, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(data), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// ComputeAuditHash chains an audit entry to its predecessor.
func ComputeAuditHash(prevHash, data string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// SealAuditEntry links entry to prevHash and fills in its Hash.
func SealAuditEntry(entry AuditLogEntry, prevHash string) AuditLogEntry {
	entry.PrevHash = prevHash
	entry.Hash = ComputeAuditHash(prevHash, auditHashData(entry))
	return entry
}

func auditHashData(e AuditLogEntry) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", e.ID, e.UserID, e.Action, e.Timestamp.Format(time.RFC3339Nano), e.PrevHash)
}

// VerifyAuditChain recomputes every hash and checks each link. The first
// entry's PrevHash is trusted so a trimmed tail still verifies.
func VerifyAuditChain(entries []AuditLogEntry) error {
	for i, e := range entries {
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("%w: entry %d (%s) does not link to its predecessor", ErrAuditChainBroken, i, e.ID)
		}
		if ComputeAuditHash(e.PrevHash, auditHashData(e)) != e.Hash {
			return fmt.Errorf("%w: entry %d (%s) hash mismatch", ErrAuditChainBroken, i, e.ID)
		}
	}
	return nil
}

// ExtractKeyPrefix returns "" for keys that are not tc_-prefixed or too short.
func ExtractKeyPrefix(rawKey string) string {
	keyData, ok := strings.CutPrefix(rawKey, KeyPrefix)
	if !ok || len(keyData) < prefixLen {
		return ""
	}
	return keyData[:prefixLen]
}
