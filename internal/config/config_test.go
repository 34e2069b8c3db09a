package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.BookingProviderTimeout)
	assert.True(t, cfg.BookingRetryFailed)
	assert.InDelta(t, 0.2, cfg.ProviderFailureRate, 1e-9)
	assert.InDelta(t, 0.1, cfg.EmailFailureRate, 1e-9)
	assert.Equal(t, 3, cfg.NotificationMaxRetries)
	assert.Equal(t, "travelcore.events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("BOOKING_PROVIDER_TIMEOUT", "750ms")
	t.Setenv("BOOKING_RETRY_FAILED", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("EMAIL_FAILURE_RATE", "0")
	t.Setenv("NOTIFICATION_MAX_RETRIES", "not-a-number")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 750*time.Millisecond, cfg.BookingProviderTimeout)
	assert.False(t, cfg.BookingRetryFailed)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Zero(t, cfg.EmailFailureRate)
	assert.Equal(t, 3, cfg.NotificationMaxRetries)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.ProviderFailureRate = 1.5
	cfg.ProviderMaxDelay = time.Millisecond
	cfg.BreakerFailures = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOOKING_PROVIDER_FAILURE_RATE")
	assert.Contains(t, err.Error(), "BOOKING_PROVIDER_MAX_DELAY")
	assert.Contains(t, err.Error(), "BOOKING_BREAKER_FAILURES")
}
