package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:               0,
			AllowedOrigins:     []string{"*"},
			ReadTimeoutSec:     15,
			WriteTimeoutSec:    30,
			IdleTimeoutSec:     60,
			ShutdownTimeoutSec: 5,
		},
		Database: config.DatabaseConfig{
			Driver:        "sqlite",
			Path:          filepath.Join(t.TempDir(), "app.db"),
			MaxOpenConns:  2,
			MaxIdleConns:  1,
			SlowQueryMS:   1000,
			RetryAttempts: 2,
		},
		Klaviyo: config.KlaviyoConfig{
			BaseURL:       "https://a.klaviyo.com/api",
			Revision:      "2024-10-15",
			AuthScheme:    "klaviyo-api-key",
			PageSize:      50,
			MaxConcurrent: 1,
		},
		Sync:      config.SyncConfig{Enabled: false},
		Cache:     config.CacheConfig{Backend: "memory", MaxEntries: 64},
		Analytics: config.AnalyticsConfig{DefaultInterval: "day", MaxPoints: 500},
	}
}

func TestNew_WiresFullGraph(t *testing.T) {
	app, err := New(context.Background(), testConfig(t), "test", zap.NewNop())
	require.NoError(t, err)
	defer app.shutdown()

	require.NotNil(t, app.httpSrv)

	rec := httptest.NewRecorder()
	app.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
