package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Event is a metric occurrence on a profile at a point in time.
// Events are append-only and time-partitioned; Value uses decimal
// semantics because it often carries order revenue.
type Event struct {
	ID         string              `json:"id" db:"id"`
	MetricID   string              `json:"metricId" db:"metric_id"`
	ProfileID  string              `json:"profileId" db:"profile_id"`
	Timestamp  time.Time           `json:"timestamp" db:"ts"`
	Value      decimal.NullDecimal `json:"value,omitempty" db:"value"`
	Properties types.JSONText      `json:"properties,omitempty" db:"properties"`
	Raw        types.JSONText      `json:"-" db:"raw"`
}
