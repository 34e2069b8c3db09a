package auth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds authentication-related configuration.
type Config struct {
	// APIKeyHashAlgorithm specifies the hashing algorithm (bcrypt or argon2).
	APIKeyHashAlgorithm string
	BcryptCost          int
	Argon2Time          uint32
	// Argon2Memory is in KiB.
	Argon2Memory  uint32
	Argon2Threads uint8
	// RateLimitPerMinute is the per-key request budget. Zero disables limiting.
	RateLimitPerMinute int
	EnableAuditLog     bool
	// AuditLogLimit caps the in-memory audit chain. Zero uses DefaultAuditLimit.
	AuditLogLimit int
	// SeedKeys maps raw development keys to user ids.
	SeedKeys map[string]string
}

// LoadConfig loads auth configuration from environment variables.
func LoadConfig() (Config, error) {
	seeds, err := ParseSeedKeys(getenv("AUTH_SEED_KEYS", ""))
	if err != nil {
		return Config{}, err
	}
	return Config{
		APIKeyHashAlgorithm: getenv("AUTH_HASH_ALGORITHM", "bcrypt"),
		BcryptCost:          getInt("AUTH_BCRYPT_COST", 12),
		Argon2Time:          uint32(getInt("AUTH_ARGON2_TIME", 1)),
		Argon2Memory:        uint32(getInt("AUTH_ARGON2_MEMORY", 64*1024)),
		Argon2Threads:       uint8(getInt("AUTH_ARGON2_THREADS", 4)),
		RateLimitPerMinute:  getInt("AUTH_RATE_PER_MIN", 100),
		EnableAuditLog:      getBool("AUTH_ENABLE_AUDIT", true),
		AuditLogLimit:       getInt("AUTH_AUDIT_LOG_LIMIT", DefaultAuditLimit),
		SeedKeys:            seeds,
	}, nil
}

// ParseSeedKeys reads "userID=rawKey" pairs separated by commas.
func ParseSeedKeys(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		userID, rawKey, ok := strings.Cut(pair, "=")
		userID, rawKey = strings.TrimSpace(userID), strings.TrimSpace(rawKey)
		if !ok || userID == "" || ExtractKeyPrefix(rawKey) == "" {
			return nil, fmt.Errorf("invalid seed key entry %q: want userID=%s<at least 8 chars>", pair, KeyPrefix)
		}
		out[rawKey] = userID
	}
	return out, nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
