package forecast

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// SeriesProvider supplies the historical series to forecast over.
// The analytics engine satisfies it.
type SeriesProvider interface {
	GetTimeSeries(ctx context.Context, metricID string, start, end time.Time, interval string) ([]models.TimeSeriesPoint, error)
}

// Service fetches a metric's history and dispatches to the requested
// forecasting method.
type Service struct {
	provider SeriesProvider
	log      *zap.Logger
}

// NewService builds a forecast service over the given series provider.
func NewService(provider SeriesProvider, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{provider: provider, log: log}
}

// Forecast retrieves the bucketed history for the metric and runs the
// named method over it. An empty method defaults to naive; an unknown
// method is an error. Window only applies to moving_average.
func (s *Service) Forecast(ctx context.Context, metricID string, start, end time.Time, interval, method string, horizon, window int) (*models.ForecastResult, error) {
	series, err := s.provider.GetTimeSeries(ctx, metricID, start, end, interval)
	if err != nil {
		return nil, err
	}

	var result *models.ForecastResult
	switch method {
	case MethodNaive, "":
		result, err = Naive(series, horizon, interval)
	case MethodMovingAverage:
		result, err = MovingAverage(series, horizon, window, interval)
	case MethodLinearRegression:
		result, err = LinearRegression(series, horizon, interval)
	default:
		return nil, fmt.Errorf("unknown forecast method %q", method)
	}
	if err != nil {
		return nil, err
	}

	s.log.Debug("forecast computed",
		zap.String("metric_id", metricID),
		zap.String("method", result.Method),
		zap.Int("horizon", horizon),
		zap.Float64("accuracy", result.Accuracy))
	return result, nil
}
