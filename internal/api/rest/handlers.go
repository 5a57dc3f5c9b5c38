// Package rest implements the dashboard HTTP API: overview KPIs,
// entity listings with upstream fallback, sync triggers, analytics
// and monitoring endpoints.
package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/analytics"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/api"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/cache"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/forecast"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/klaviyo"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/monitoring"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
	syncsvc "github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/sync"
)

// Handlers carries the service dependencies of every endpoint.
type Handlers struct {
	repos     *repository.Repositories
	syncSvc   *syncsvc.Service
	engine    *analytics.Engine
	forecasts *forecast.Service
	collector *monitoring.Collector
	writeback *cache.WriteBackQueue
	cfg       config.AnalyticsConfig
	log       *zap.Logger
	now       func() time.Time
}

// NewHandlers wires the endpoint set.
func NewHandlers(
	repos *repository.Repositories,
	syncSvc *syncsvc.Service,
	engine *analytics.Engine,
	forecasts *forecast.Service,
	collector *monitoring.Collector,
	writeback *cache.WriteBackQueue,
	cfg config.AnalyticsConfig,
	log *zap.Logger,
) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		repos:     repos,
		syncSvc:   syncSvc,
		engine:    engine,
		forecasts: forecasts,
		collector: collector,
		writeback: writeback,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (h *Handlers) error(w http.ResponseWriter, r *http.Request, code, message string) {
	if h.collector != nil {
		h.collector.RecordError(code)
	}
	api.WriteError(w, r, code, message)
}

// mapError translates service-layer failures onto the error envelope.
func (h *Handlers) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		h.error(w, r, api.CodeCancelled, "request cancelled")
	case errors.Is(err, analytics.ErrInvalidMetricID),
		errors.Is(err, analytics.ErrInvalidDateRange),
		errors.Is(err, analytics.ErrSeriesLengthMismatch),
		errors.Is(err, analytics.ErrSeriesTooShort),
		errors.Is(err, analytics.ErrEmptySeries),
		errors.Is(err, forecast.ErrNotEnoughData):
		h.error(w, r, api.CodeValidation, err.Error())
	case errors.Is(err, analytics.ErrFetchFailed):
		h.error(w, r, api.CodeDatabase, err.Error())
	case errors.Is(err, syncsvc.ErrSyncInProgress):
		h.error(w, r, api.CodeSyncInProgress, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		h.error(w, r, api.CodeNotFound, err.Error())
	default:
		if apiErr, ok := klaviyo.AsAPIError(err); ok {
			h.mapUpstreamError(w, r, apiErr)
			return
		}
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		h.error(w, r, api.CodeInternal, "internal error")
	}
}

func (h *Handlers) mapUpstreamError(w http.ResponseWriter, r *http.Request, apiErr *klaviyo.APIError) {
	switch apiErr.Kind {
	case klaviyo.KindAuthentication:
		h.error(w, r, api.CodeAuth, apiErr.Error())
	case klaviyo.KindRateLimit:
		retry := int(apiErr.RetryAfter / time.Second)
		if retry < 1 {
			retry = 1
		}
		if h.collector != nil {
			h.collector.RecordError(api.CodeRateLimited)
		}
		api.WriteErrorRetry(w, r, api.CodeRateLimited, apiErr.Error(), &retry)
	case klaviyo.KindNotFound:
		h.error(w, r, api.CodeNotFound, apiErr.Error())
	default:
		h.error(w, r, api.CodeUpstream, apiErr.Error())
	}
}

func (h *Handlers) dateRange(r *http.Request) DateRange {
	return ParseDateRange(r.URL.Query().Get("dateRange"), h.now())
}

func (h *Handlers) interval(r *http.Request) string {
	if v := r.URL.Query().Get("interval"); v != "" {
		return v
	}
	if h.cfg.DefaultInterval != "" {
		return h.cfg.DefaultInterval
	}
	return models.BucketDay
}

// queryInt returns the named integer parameter, def when absent.
// Malformed values surface as ok=false after a validation response.
func (h *Handlers) queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		h.error(w, r, api.CodeValidation, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

func (h *Handlers) queryFloat(w http.ResponseWriter, r *http.Request, name string, def float64) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		h.error(w, r, api.CodeValidation, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

// Overview serves GET /overview: headline KPIs for the requested
// window compared against the preceding window of equal length.
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cur := h.dateRange(r)
	prev := cur.Previous()

	curTotals, err := h.repos.Campaigns.EngagementTotals(ctx, cur.Start, cur.End)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	prevTotals, err := h.repos.Campaigns.EngagementTotals(ctx, prev.Start, prev.End)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	activeCampaigns, err := h.repos.Campaigns.CountInRange(ctx, cur.Start, cur.End)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	activeFlows, err := h.repos.Flows.CountByStatus(ctx, "live")
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	ov := buildOverview(curTotals, prevTotals, cur, h.now().UTC())
	ov.ActiveCampaigns = activeCampaigns
	ov.ActiveFlows = activeFlows
	api.WriteJSON(w, http.StatusOK, ov)
}

func buildOverview(cur, prev *models.EngagementTotals, window DateRange, generatedAt time.Time) *models.Overview {
	return &models.Overview{
		Revenue:         kpiChange(cur.Revenue, prev.Revenue),
		SentCount:       kpiChange(float64(cur.SentCount), float64(prev.SentCount)),
		OpenCount:       kpiChange(float64(cur.OpenCount), float64(prev.OpenCount)),
		ClickCount:      kpiChange(float64(cur.ClickCount), float64(prev.ClickCount)),
		ConversionCount: kpiChange(float64(cur.ConversionCount), float64(prev.ConversionCount)),
		OpenRate:        kpiChange(rate(cur.OpenCount, cur.SentCount), rate(prev.OpenCount, prev.SentCount)),
		ClickRate:       kpiChange(rate(cur.ClickCount, cur.SentCount), rate(prev.ClickCount, prev.SentCount)),
		ConversionRate:  kpiChange(rate(cur.ConversionCount, cur.SentCount), rate(prev.ConversionCount, prev.SentCount)),
		From:            window.Start,
		To:              window.End,
		GeneratedAt:     generatedAt,
	}
}

func kpiChange(current, previous float64) models.KPIChange {
	change := 0.0
	switch {
	case previous != 0:
		change = (current - previous) / previous * 100
	case current != 0:
		change = 100
	}
	return models.KPIChange{
		Current:       analytics.SafeFloat(current),
		Previous:      analytics.SafeFloat(previous),
		ChangePercent: analytics.SafeFloat(change),
	}
}

func rate(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// listEntities is the shared DB-first read path: serve local rows,
// and when the table has nothing for the window, fetch upstream
// synchronously, respond with the fresh batch and persist it in the
// background. An upstream failure degrades to the empty local result
// instead of a 502; the dashboard renders an empty chart and the
// next scheduled sync repairs the gap.
func listEntities[T any](h *Handlers, w http.ResponseWriter, r *http.Request,
	find func(context.Context, time.Time, time.Time) ([]T, error),
	fetch func(context.Context, time.Time, time.Time) ([]T, error),
	store func(context.Context, []T) error,
) {
	ctx := r.Context()
	dr := h.dateRange(r)

	rows, err := find(ctx, dr.Start, dr.End)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if len(rows) > 0 {
		api.WriteJSON(w, http.StatusOK, rows)
		return
	}

	fetched, err := fetch(ctx, dr.Start, dr.End)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.mapError(w, r, err)
			return
		}
		h.log.Warn("upstream fallback failed, serving empty result",
			zap.String("path", r.URL.Path), zap.Error(err))
		api.WriteJSON(w, http.StatusOK, []T{})
		return
	}
	if len(fetched) > 0 && h.writeback != nil {
		h.writeback.Enqueue(func(ctx context.Context) {
			if err := store(ctx, fetched); err != nil {
				h.log.Error("write-back of fetched rows failed", zap.Error(err))
			}
		})
	}
	if fetched == nil {
		fetched = []T{}
	}
	api.WriteJSON(w, http.StatusOK, fetched)
}

// ListCampaigns serves GET /campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	listEntities(h, w, r, h.repos.Campaigns.FindByDateRange, h.syncSvc.FetchCampaigns, h.syncSvc.StoreCampaigns)
}

// ListFlows serves GET /flows.
func (h *Handlers) ListFlows(w http.ResponseWriter, r *http.Request) {
	listEntities(h, w, r, h.repos.Flows.FindByDateRange, h.syncSvc.FetchFlows, h.syncSvc.StoreFlows)
}

// ListForms serves GET /forms.
func (h *Handlers) ListForms(w http.ResponseWriter, r *http.Request) {
	listEntities(h, w, r, h.repos.Forms.FindByDateRange, h.syncSvc.FetchForms, h.syncSvc.StoreForms)
}

// ListSegments serves GET /segments.
func (h *Handlers) ListSegments(w http.ResponseWriter, r *http.Request) {
	listEntities(h, w, r, h.repos.Segments.FindByDateRange, h.syncSvc.FetchSegments, h.syncSvc.StoreSegments)
}

func (h *Handlers) syncOptions(w http.ResponseWriter, r *http.Request) (syncsvc.Options, bool) {
	q := r.URL.Query()
	opts := syncsvc.Options{Force: q.Get("force") == "true"}
	if raw := q.Get("since"); raw != "" {
		ts, err := parseSince(raw)
		if err != nil {
			h.error(w, r, api.CodeValidation, "invalid since parameter: expected RFC3339 or YYYY-MM-DD")
			return syncsvc.Options{}, false
		}
		opts.Since = &ts
	}
	if raw := q.Get("entities"); raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				opts.Entities = append(opts.Entities, e)
			}
		}
	}
	return opts, true
}

func parseSince(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// SyncEntity serves POST /{entity}/sync: runs the entity's sync job
// to completion and reports the outcome.
func (h *Handlers) SyncEntity(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	opts, ok := h.syncOptions(w, r)
	if !ok {
		return
	}

	result, err := h.syncSvc.Sync(r.Context(), entity, opts)
	if err != nil {
		if strings.Contains(err.Error(), "unknown entity type") {
			h.error(w, r, api.CodeValidation, err.Error())
			return
		}
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			h.mapError(w, r, err)
			return
		}
		// The run itself failed; the counters in result are still
		// meaningful (committed pages before the failure).
		h.error(w, r, api.CodeUpstream, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

// SyncAll serves POST /sync/all.
func (h *Handlers) SyncAll(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.syncOptions(w, r)
	if !ok {
		return
	}
	for _, e := range opts.Entities {
		if !config.IsEntityType(e) {
			h.error(w, r, api.CodeValidation, "unknown entity type "+strconv.Quote(e))
			return
		}
	}
	result := h.syncSvc.SyncAll(r.Context(), opts)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusMultiStatus
	}
	api.WriteJSON(w, status, result)
}

// SyncStatus serves GET /sync/status.
func (h *Handlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := h.syncSvc.Status(r.Context())
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rows)
}

// Timeseries serves GET /analytics/timeseries/{metricId}.
func (h *Handlers) Timeseries(w http.ResponseWriter, r *http.Request) {
	metricID := mux.Vars(r)["metricId"]
	dr := h.dateRange(r)

	maxPoints, ok := h.queryInt(w, r, "maxPoints", 0)
	if !ok {
		return
	}

	series, err := h.engine.GetTimeSeries(r.Context(), metricID, dr.Start, dr.End, h.interval(r))
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	if maxPoints <= 0 {
		maxPoints = h.cfg.MaxPoints
	}
	if maxPoints > 0 && len(series) > maxPoints {
		series = analytics.Downsample(series, maxPoints, r.URL.Query().Get("downsampleMethod"))
	}
	api.WriteJSON(w, http.StatusOK, sanitizeSeries(series))
}

// Decomposition serves GET /analytics/decomposition/{metricId}.
func (h *Handlers) Decomposition(w http.ResponseWriter, r *http.Request) {
	metricID := mux.Vars(r)["metricId"]
	dr := h.dateRange(r)

	window, ok := h.queryInt(w, r, "windowSize", 7)
	if !ok {
		return
	}

	result, err := h.engine.Decompose(r.Context(), metricID, dr.Start, dr.End, h.interval(r), window, 0)
	if err != nil {
		if strings.Contains(err.Error(), "seasonal period") {
			h.error(w, r, api.CodeValidation, err.Error())
			return
		}
		h.mapError(w, r, err)
		return
	}
	result.Original = sanitizeSeries(result.Original)
	result.Trend = sanitizeSeries(result.Trend)
	result.Seasonal = sanitizeSeries(result.Seasonal)
	result.Residual = sanitizeSeries(result.Residual)
	api.WriteJSON(w, http.StatusOK, result)
}

// Anomalies serves GET /analytics/anomalies/{metricId}.
func (h *Handlers) Anomalies(w http.ResponseWriter, r *http.Request) {
	metricID := mux.Vars(r)["metricId"]
	dr := h.dateRange(r)

	threshold, ok := h.queryFloat(w, r, "threshold", 3.0)
	if !ok {
		return
	}
	lookback, ok := h.queryInt(w, r, "lookbackWindow", 0)
	if !ok {
		return
	}

	points, err := h.engine.DetectMetricAnomalies(r.Context(), metricID, dr.Start, dr.End, h.interval(r), threshold, lookback)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	for i := range points {
		points[i].Value = analytics.SafeFloat(points[i].Value)
		points[i].ZScore = analytics.SafeFloat(points[i].ZScore)
	}
	api.WriteJSON(w, http.StatusOK, points)
}

// Forecast serves GET /analytics/forecast/{metricId}.
func (h *Handlers) Forecast(w http.ResponseWriter, r *http.Request) {
	metricID := mux.Vars(r)["metricId"]
	dr := h.dateRange(r)

	horizon, ok := h.queryInt(w, r, "horizon", 7)
	if !ok {
		return
	}
	if horizon < 1 {
		h.error(w, r, api.CodeValidation, "horizon must be at least 1")
		return
	}
	window, ok := h.queryInt(w, r, "window", forecast.DefaultWindow)
	if !ok {
		return
	}
	level, ok := h.queryFloat(w, r, "confidenceLevel", forecast.DefaultConfidenceLevel)
	if !ok {
		return
	}

	method := r.URL.Query().Get("method")
	result, err := h.forecasts.Forecast(r.Context(), metricID, dr.Start, dr.End, h.interval(r), method, horizon, window)
	if err != nil {
		if strings.Contains(err.Error(), "unknown forecast method") {
			h.error(w, r, api.CodeValidation, err.Error())
			return
		}
		h.mapError(w, r, err)
		return
	}
	if !forecast.RescaleConfidence(result, level) {
		h.error(w, r, api.CodeValidation, "confidenceLevel must be one of 0.80, 0.90, 0.95, 0.99")
		return
	}
	result.Forecast = sanitizeSeries(result.Forecast)
	for i := range result.Confidence.Upper {
		result.Confidence.Upper[i] = analytics.SafeFloat(result.Confidence.Upper[i])
		result.Confidence.Lower[i] = analytics.SafeFloat(result.Confidence.Lower[i])
	}
	result.Accuracy = analytics.SafeFloat(result.Accuracy)
	api.WriteJSON(w, http.StatusOK, result)
}

// Correlation serves GET /analytics/correlation.
func (h *Handlers) Correlation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	metric1 := q.Get("metric1")
	metric2 := q.Get("metric2")
	if metric1 == "" || metric2 == "" {
		h.error(w, r, api.CodeValidation, "metric1 and metric2 are required")
		return
	}
	dr := h.dateRange(r)
	align := q.Get("alignTimestamps") != "false"

	result, err := h.engine.CorrelateMetrics(r.Context(), metric1, metric2, dr.Start, dr.End, h.interval(r), align)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	result.Correlation = analytics.SafeFloat(result.Correlation)
	api.WriteJSON(w, http.StatusOK, result)
}

// MonitoringHealth serves GET /monitoring/health.
func (h *Handlers) MonitoringHealth(w http.ResponseWriter, r *http.Request) {
	report := h.collector.Health(r.Context())
	status := http.StatusOK
	if report.Status == monitoring.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, report)
}

// MonitoringMetrics serves GET /monitoring/metrics.
func (h *Handlers) MonitoringMetrics(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.collector.Snapshot())
}

// MonitoringErrors serves GET /monitoring/errors.
func (h *Handlers) MonitoringErrors(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.collector.Errors())
}

// MonitoringStatus serves GET /monitoring/status.
func (h *Handlers) MonitoringStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.collector.Status(r.Context()))
}

// Health serves GET /health, the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func sanitizeSeries(series []models.TimeSeriesPoint) []models.TimeSeriesPoint {
	if series == nil {
		return []models.TimeSeriesPoint{}
	}
	for i := range series {
		series[i].Value = analytics.SafeFloat(series[i].Value)
	}
	return series
}
