package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Flow is an automated message sequence.
type Flow struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Status          string          `json:"status" db:"status"`
	TriggerType     string          `json:"triggerType" db:"trigger_type"`
	SentCount       int64           `json:"sentCount" db:"sent_count"`
	OpenCount       int64           `json:"openCount" db:"open_count"`
	ClickCount      int64           `json:"clickCount" db:"click_count"`
	ConversionCount int64           `json:"conversionCount" db:"conversion_count"`
	Revenue         decimal.Decimal `json:"revenue" db:"revenue"`
	Metadata        types.JSONText  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}
