package sync

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/klaviyo"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
)

// counters maps the upstream statistics block onto the shared
// denormalized engagement columns. A missing block leaves zeros.
func counters(stats *klaviyo.StatisticsAttrs) (sent, opens, clicks, conversions int64, revenue decimal.Decimal) {
	if stats == nil {
		return 0, 0, 0, 0, decimal.Zero
	}
	return stats.Recipients, stats.Opens, stats.Clicks, stats.Conversions,
		decimal.NewFromFloat(stats.Revenue)
}

// orNow falls back when the upstream omits a timestamp.
func orNow(ts time.Time, now time.Time) time.Time {
	if ts.IsZero() {
		return now
	}
	return ts
}

func campaignFromResource(res klaviyo.Resource, now time.Time) (*models.Campaign, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.CampaignAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	sent, opens, clicks, conversions, revenue := counters(attrs.Statistics)
	updated := orNow(attrs.UpdatedAt, now)
	return &models.Campaign{
		ID:              res.ID,
		Name:            attrs.Name,
		Status:          attrs.Status,
		Channel:         attrs.Channel,
		SentCount:       sent,
		OpenCount:       opens,
		ClickCount:      clicks,
		ConversionCount: conversions,
		Revenue:         revenue,
		Metadata:        types.JSONText(res.Attributes),
		SendTime:        attrs.SendTime,
		CreatedAt:       orNow(attrs.CreatedAt, now),
		UpdatedAt:       updated,
	}, updated, nil
}

func flowFromResource(res klaviyo.Resource, now time.Time) (*models.Flow, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.FlowAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	sent, opens, clicks, conversions, revenue := counters(attrs.Statistics)
	updated := orNow(attrs.Updated, now)
	return &models.Flow{
		ID:              res.ID,
		Name:            attrs.Name,
		Status:          attrs.Status,
		TriggerType:     attrs.TriggerType,
		SentCount:       sent,
		OpenCount:       opens,
		ClickCount:      clicks,
		ConversionCount: conversions,
		Revenue:         revenue,
		Metadata:        types.JSONText(res.Attributes),
		CreatedAt:       orNow(attrs.Created, now),
		UpdatedAt:       updated,
	}, updated, nil
}

func formFromResource(res klaviyo.Resource, now time.Time) (*models.Form, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.FormAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	sent, opens, clicks, conversions, revenue := counters(attrs.Statistics)
	updated := orNow(attrs.UpdatedAt, now)
	return &models.Form{
		ID:              res.ID,
		Name:            attrs.Name,
		Status:          attrs.Status,
		FormType:        attrs.FormType,
		SentCount:       sent,
		OpenCount:       opens,
		ClickCount:      clicks,
		ConversionCount: conversions,
		Revenue:         revenue,
		Metadata:        types.JSONText(res.Attributes),
		CreatedAt:       orNow(attrs.CreatedAt, now),
		UpdatedAt:       updated,
	}, updated, nil
}

func segmentFromResource(res klaviyo.Resource, now time.Time) (*models.Segment, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.SegmentAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	sent, opens, clicks, conversions, revenue := counters(attrs.Statistics)
	status := "inactive"
	if attrs.IsActive {
		status = "active"
	}
	updated := orNow(attrs.Updated, now)
	return &models.Segment{
		ID:              res.ID,
		Name:            attrs.Name,
		Status:          status,
		MemberCount:     attrs.ProfileCount,
		SentCount:       sent,
		OpenCount:       opens,
		ClickCount:      clicks,
		ConversionCount: conversions,
		Revenue:         revenue,
		Metadata:        types.JSONText(res.Attributes),
		CreatedAt:       orNow(attrs.Created, now),
		UpdatedAt:       updated,
	}, updated, nil
}

func metricFromResource(res klaviyo.Resource, now time.Time) (*models.Metric, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.MetricAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	updated := orNow(attrs.Updated, now)
	return &models.Metric{
		ID:                  res.ID,
		Name:                attrs.Name,
		Type:                res.Type,
		Description:         attrs.Description,
		IntegrationID:       attrs.Integration.ID,
		IntegrationName:     attrs.Integration.Name,
		IntegrationCategory: attrs.Integration.Category,
		Metadata:            types.JSONText(res.Attributes),
		CreatedAt:           orNow(attrs.Created, now),
		UpdatedAt:           updated,
	}, updated, nil
}

func profileFromResource(res klaviyo.Resource, now time.Time) (*models.Profile, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.ProfileAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	updated := orNow(attrs.Updated, now)
	return &models.Profile{
		ID:          res.ID,
		Email:       attrs.Email,
		Phone:       attrs.PhoneNumber,
		ExternalID:  attrs.ExternalID,
		FirstName:   attrs.FirstName,
		LastName:    attrs.LastName,
		Properties:  types.JSONText(attrs.Properties),
		LastEventAt: attrs.LastEventDate,
		CreatedAt:   orNow(attrs.Created, now),
		UpdatedAt:   updated,
	}, updated, nil
}

// eventFromResource transforms an event resource. Metric and profile
// linkage comes from relationships; an event without both is
// malformed and rejected rather than stored dangling.
func eventFromResource(res klaviyo.Resource) (*models.Event, time.Time, error) {
	attrs, err := klaviyo.DecodeAttributes[klaviyo.EventAttrs](res)
	if err != nil {
		return nil, time.Time{}, err
	}
	metric, ok := res.Relationships["metric"].One()
	if !ok {
		return nil, time.Time{}, fmt.Errorf("event %q has no metric relationship", res.ID)
	}
	profile, ok := res.Relationships["profile"].One()
	if !ok {
		return nil, time.Time{}, fmt.Errorf("event %q has no profile relationship", res.ID)
	}

	value := decimal.NullDecimal{}
	if attrs.Value != nil {
		value = decimal.NewNullDecimal(decimal.NewFromFloat(*attrs.Value))
	}
	return &models.Event{
		ID:         res.ID,
		MetricID:   metric.ID,
		ProfileID:  profile.ID,
		Timestamp:  attrs.Datetime,
		Value:      value,
		Properties: types.JSONText(attrs.Properties),
		Raw:        types.JSONText(res.Attributes),
	}, attrs.Datetime, nil
}
