package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Profile is an end customer known to the upstream platform.
// LastEventAt is advanced monotonically by event ingestion.
type Profile struct {
	ID          string         `json:"id" db:"id"`
	Email       *string        `json:"email,omitempty" db:"email"`
	Phone       *string        `json:"phone,omitempty" db:"phone"`
	ExternalID  *string        `json:"externalId,omitempty" db:"external_id"`
	FirstName   *string        `json:"firstName,omitempty" db:"first_name"`
	LastName    *string        `json:"lastName,omitempty" db:"last_name"`
	Properties  types.JSONText `json:"properties,omitempty" db:"properties"`
	LastEventAt *time.Time     `json:"lastEventAt,omitempty" db:"last_event_at"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}
