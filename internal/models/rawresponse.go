package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RawAPIResponse is an optional audit capture of upstream payloads,
// retained for a bounded debugging window.
type RawAPIResponse struct {
	ID         int64          `json:"id" db:"id"`
	Endpoint   string         `json:"endpoint" db:"endpoint"`
	Payload    types.JSONText `json:"payload" db:"payload"`
	APIVersion string         `json:"apiVersion" db:"api_version"`
	ReceivedAt time.Time      `json:"receivedAt" db:"received_at"`
}
