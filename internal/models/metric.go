package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Metric defines a measurable upstream event type (e.g. "Placed Order").
type Metric struct {
	ID                  string         `json:"id" db:"id"`
	Name                string         `json:"name" db:"name"`
	Type                string         `json:"type" db:"type"`
	Description         string         `json:"description" db:"description"`
	IntegrationID       string         `json:"integrationId" db:"integration_id"`
	IntegrationName     string         `json:"integrationName" db:"integration_name"`
	IntegrationCategory string         `json:"integrationCategory" db:"integration_category"`
	Metadata            types.JSONText `json:"metadata,omitempty" db:"metadata"`
	CreatedAt           time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time      `json:"updatedAt" db:"updated_at"`
}
