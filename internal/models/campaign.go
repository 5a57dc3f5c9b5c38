package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Campaign is a one-off send with denormalized performance counters.
// Counters are overwritten wholesale by ingestion; partial updates go
// through MetricsPatch.
type Campaign struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Status          string          `json:"status" db:"status"`
	Channel         string          `json:"channel" db:"channel"` // email, sms
	SentCount       int64           `json:"sentCount" db:"sent_count"`
	OpenCount       int64           `json:"openCount" db:"open_count"`
	ClickCount      int64           `json:"clickCount" db:"click_count"`
	ConversionCount int64           `json:"conversionCount" db:"conversion_count"`
	Revenue         decimal.Decimal `json:"revenue" db:"revenue"`
	Metadata        types.JSONText  `json:"metadata,omitempty" db:"metadata"`
	SendTime        *time.Time      `json:"sendTime,omitempty" db:"send_time"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// MetricsPatch is a partial update of denormalized counters; nil
// fields are left untouched.
type MetricsPatch struct {
	SentCount       *int64           `json:"sentCount,omitempty"`
	OpenCount       *int64           `json:"openCount,omitempty"`
	ClickCount      *int64           `json:"clickCount,omitempty"`
	ConversionCount *int64           `json:"conversionCount,omitempty"`
	Revenue         *decimal.Decimal `json:"revenue,omitempty"`
}

// IsZero reports whether the patch carries no changes.
func (p MetricsPatch) IsZero() bool {
	return p.SentCount == nil && p.OpenCount == nil && p.ClickCount == nil &&
		p.ConversionCount == nil && p.Revenue == nil
}
