package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api/middleware"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/cache"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
)

// NewRouter assembles the full route table behind the standard
// middleware chain. wsHandler is mounted at /ws/status when non-nil;
// responseCache may be nil to disable GET caching (tests).
func NewRouter(h *Handlers, responseCache *cache.Cache, wsHandler http.Handler, cfg config.ServerConfig, log *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log, h.collector))
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Tracing)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SyncRateLimit(cfg.SyncRatePerMin))
	if responseCache != nil {
		r.Use(middleware.ResponseCache(responseCache))
	}

	r.HandleFunc("/overview", h.Overview).Methods(http.MethodGet)
	r.HandleFunc("/campaigns", h.ListCampaigns).Methods(http.MethodGet)
	r.HandleFunc("/flows", h.ListFlows).Methods(http.MethodGet)
	r.HandleFunc("/forms", h.ListForms).Methods(http.MethodGet)
	r.HandleFunc("/segments", h.ListSegments).Methods(http.MethodGet)

	r.HandleFunc("/{entity:metrics|campaigns|flows|forms|segments|profiles|events}/sync", h.SyncEntity).Methods(http.MethodPost)
	r.HandleFunc("/sync/all", h.SyncAll).Methods(http.MethodPost)
	r.HandleFunc("/sync/status", h.SyncStatus).Methods(http.MethodGet)

	r.HandleFunc("/analytics/timeseries/{metricId}", h.Timeseries).Methods(http.MethodGet)
	r.HandleFunc("/analytics/decomposition/{metricId}", h.Decomposition).Methods(http.MethodGet)
	r.HandleFunc("/analytics/anomalies/{metricId}", h.Anomalies).Methods(http.MethodGet)
	r.HandleFunc("/analytics/forecast/{metricId}", h.Forecast).Methods(http.MethodGet)
	r.HandleFunc("/analytics/correlation", h.Correlation).Methods(http.MethodGet)

	r.HandleFunc("/monitoring/health", h.MonitoringHealth).Methods(http.MethodGet)
	r.HandleFunc("/monitoring/metrics", h.MonitoringMetrics).Methods(http.MethodGet)
	r.HandleFunc("/monitoring/errors", h.MonitoringErrors).Methods(http.MethodGet)
	r.HandleFunc("/monitoring/status", h.MonitoringStatus).Methods(http.MethodGet)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if wsHandler != nil {
		r.Handle("/ws/status", wsHandler)
	}

	r.NotFoundHandler = notFound()
	r.MethodNotAllowedHandler = methodNotAllowed()
	return r
}

func notFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, r, api.CodeNotFound, "no such endpoint")
	})
}

func methodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusMethodNotAllowed, api.ErrorBody{
			Error:     http.StatusText(http.StatusMethodNotAllowed),
			Code:      api.CodeValidation,
			Message:   "method not allowed",
			RequestID: api.RequestIDFrom(r.Context()),
		})
	})
}
