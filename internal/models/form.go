package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Form is a signup form. Sent/open counters map to views and
// submissions upstream; revenue stays zero unless the platform
// attributes orders to the form.
type Form struct {
	ID              string          `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Status          string          `json:"status" db:"status"`
	FormType        string          `json:"formType" db:"form_type"` // popup, embed, flyout
	SentCount       int64           `json:"sentCount" db:"sent_count"`
	OpenCount       int64           `json:"openCount" db:"open_count"`
	ClickCount      int64           `json:"clickCount" db:"click_count"`
	ConversionCount int64           `json:"conversionCount" db:"conversion_count"`
	Revenue         decimal.Decimal `json:"revenue" db:"revenue"`
	Metadata        types.JSONText  `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}
