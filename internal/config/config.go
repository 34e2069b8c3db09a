package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, read from the environment and
// optionally overridden by command-line flags.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	LogLevel       string
	LogFile        string
	LogDevelopment bool

	// SQLitePath persists bookings; empty keeps everything in memory.
	SQLitePath string
	// RedisAddr shares inventory stock between instances; empty uses the in-process ledger.
	RedisAddr      string
	RedisKeyPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	OTLPEndpoint string
	OTLPInsecure bool
	TraceSample  float64

	BookingProviderTimeout time.Duration
	BookingRetryFailed     bool
	ProviderFailureRate    float64
	ProviderMinDelay       time.Duration
	ProviderMaxDelay       time.Duration
	BreakerFailures        int
	BreakerOpenTimeout     time.Duration

	EmailFailureRate        float64
	NotificationMaxRetries  int
	NotificationBaseBackoff time.Duration

	SeedDemoData bool
}

func Load() Config {
	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFile:        getenv("LOG_FILE", ""),
		LogDevelopment: getBool("LOG_DEVELOPMENT", false),

		SQLitePath:     getenv("SQLITE_PATH", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisKeyPrefix: getenv("REDIS_KEY_PREFIX", "inventory:stock:"),

		KafkaBrokers: getList("KAFKA_BROKERS"),
		KafkaTopic:   getenv("KAFKA_TOPIC", "travelcore.events"),

		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSample:  getFloat("OTEL_TRACES_SAMPLE_RATIO", 1),

		BookingProviderTimeout: getDuration("BOOKING_PROVIDER_TIMEOUT", 5*time.Second),
		BookingRetryFailed:     getBool("BOOKING_RETRY_FAILED", true),
		ProviderFailureRate:    getFloat("BOOKING_PROVIDER_FAILURE_RATE", 0.2),
		ProviderMinDelay:       getDuration("BOOKING_PROVIDER_MIN_DELAY", 200*time.Millisecond),
		ProviderMaxDelay:       getDuration("BOOKING_PROVIDER_MAX_DELAY", 800*time.Millisecond),
		BreakerFailures:        getInt("BOOKING_BREAKER_FAILURES", 5),
		BreakerOpenTimeout:     getDuration("BOOKING_BREAKER_OPEN_TIMEOUT", 30*time.Second),

		EmailFailureRate:        getFloat("EMAIL_FAILURE_RATE", 0.1),
		NotificationMaxRetries:  getInt("NOTIFICATION_MAX_RETRIES", 3),
		NotificationBaseBackoff: getDuration("NOTIFICATION_BASE_BACKOFF", time.Second),

		SeedDemoData: getBool("SEED_DEMO_DATA", true),
	}
}

// Validate reports settings that would make the process misbehave.
func (c Config) Validate() error {
	var problems []string
	if c.HTTPAddr == "" {
		problems = append(problems, "HTTP_ADDR is empty")
	}
	for name, rate := range map[string]float64{
		"BOOKING_PROVIDER_FAILURE_RATE": c.ProviderFailureRate,
		"EMAIL_FAILURE_RATE":            c.EmailFailureRate,
	} {
		if rate < 0 || rate > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,1], got %v", name, rate))
		}
	}
	if c.ProviderMaxDelay < c.ProviderMinDelay {
		problems = append(problems, "BOOKING_PROVIDER_MAX_DELAY is below BOOKING_PROVIDER_MIN_DELAY")
	}
	if c.BookingProviderTimeout <= 0 {
		problems = append(problems, "BOOKING_PROVIDER_TIMEOUT must be positive")
	}
	if c.NotificationMaxRetries < 0 {
		problems = append(problems, "NOTIFICATION_MAX_RETRIES must not be negative")
	}
	if c.BreakerFailures < 1 {
		problems = append(problems, "BOOKING_BREAKER_FAILURES must be at least 1")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
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

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
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

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
