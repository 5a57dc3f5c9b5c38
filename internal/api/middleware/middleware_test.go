package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/cache"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"body": body})
	})
}

func TestRequestID_EchoesProvidedHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/overview", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	h := RequestID(okHandler("x"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overview", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSyncRateLimit_LimitsPostBursts(t *testing.T) {
	h := SyncRateLimit(2)(okHandler("synced"))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/campaigns/sync", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different IP has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/campaigns/sync", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncRateLimit_IgnoresReads(t *testing.T) {
	h := SyncRateLimit(1)(okHandler("read"))
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/campaigns", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestSyncRateLimit_ZeroDisables(t *testing.T) {
	h := SyncRateLimit(0)(okHandler("x"))
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/campaigns/sync", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(config.CacheConfig{Backend: "memory", MaxEntries: 64}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestResponseCache_ServesSecondRequestFromCache(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		api.WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})
	h := ResponseCache(testCache(t))(handler)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/campaigns?dateRange=last-7-days", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/campaigns?dateRange=last-7-days", nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	assert.Equal(t, int64(1), hits.Load())
}

func TestResponseCache_DoesNotCacheErrors(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		api.WriteError(w, r, api.CodeDatabase, "down")
	})
	h := ResponseCache(testCache(t))(handler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overview", nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code)
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestResponseCache_SkipsUncacheablePaths(t *testing.T) {
	var hits atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		api.WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})
	h := ResponseCache(testCache(t))(handler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/monitoring/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestLogging_RecordsRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Logging(zap.NewNop(), nil))
	r.HandleFunc("/campaigns/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/campaigns/c1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecovery_TurnsPanicIntoEnvelope(t *testing.T) {
	r := mux.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(zap.NewNop()))
	r.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), api.CodeInternal)
}

func TestClassForPath(t *testing.T) {
	cases := map[string]string{
		"/overview":                cache.ClassOverview,
		"/campaigns":               cache.ClassEntities,
		"/flows":                   cache.ClassEntities,
		"/analytics/timeseries/m1": cache.ClassAnalytics,
		"/sync/status":             cache.ClassSyncStatus,
		"/monitoring/health":       "",
		"/health":                  "",
	}
	for path, want := range cases {
		assert.Equal(t, want, classForPath(path), path)
	}
}
