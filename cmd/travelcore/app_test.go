package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/travelcore/internal/config"
)

func TestApp_CloseFlushesEventsPublishedAfterBusStopped(t *testing.T) {
	ctx := context.Background()
	cfg := config.Load()
	cfg.SQLitePath = ""
	cfg.RedisAddr = ""
	cfg.KafkaBrokers = nil
	cfg.SeedDemoData = false

	a, err := newApp(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	// bus.Run is not running, as after the server's shutdown cancelled it
	a.bus.Publish(ctx, "travel.submitted.late", nil)
	require.Equal(t, 1, a.bus.Pending())

	require.NoError(t, a.Close(ctx))
	assert.Zero(t, a.bus.Pending())
}

func TestApp_HealthReportsAuditChain(t *testing.T) {
	t.Setenv("AUTH_ENABLE_AUDIT", "true")
	cfg := config.Load()
	cfg.SQLitePath = ""
	cfg.RedisAddr = ""
	cfg.KafkaBrokers = nil
	cfg.SeedDemoData = false

	a, err := newApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	// an unauthenticated call lands in the audit chain
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "intact", body["authAuditChain"])
}
