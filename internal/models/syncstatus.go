package models

import "time"

// Sync job statuses.
const (
	SyncStatusIdle      = "idle"
	SyncStatusRunning   = "running"
	SyncStatusSucceeded = "succeeded"
	SyncStatusFailed    = "failed"
)

// SyncStatus is the per-entity-type sync record. LastWatermark is
// non-decreasing: it only advances after a batch commits.
type SyncStatus struct {
	EntityType          string     `json:"entityType" db:"entity_type"`
	LastSyncStartedAt   *time.Time `json:"lastSyncStartedAt,omitempty" db:"last_sync_started_at"`
	LastSyncCompletedAt *time.Time `json:"lastSyncCompletedAt,omitempty" db:"last_sync_completed_at"`
	LastWatermark       *time.Time `json:"lastWatermark,omitempty" db:"last_watermark"`
	Status              string     `json:"status" db:"status"`
	RecordCount         int64      `json:"recordCount" db:"record_count"`
	ErrorMessage        *string    `json:"errorMessage,omitempty" db:"error_message"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"updated_at"`
}

// SyncStatusRow is the wire shape served by GET /sync/status.
type SyncStatusRow struct {
	EntityType   string     `json:"entityType"`
	LastSyncTime *time.Time `json:"lastSyncTime"`
	Status       string     `json:"status"`
	RecordCount  int64      `json:"recordCount"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// EntitySyncResult is the outcome of one entity-type sync run.
type EntitySyncResult struct {
	OK         bool   `json:"ok"`
	Count      int64  `json:"count"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// SyncAllResult aggregates per-entity outcomes of a syncAll run.
type SyncAllResult struct {
	Success   bool                        `json:"success"`
	PerEntity map[string]EntitySyncResult `json:"perEntity"`
}

// SyncStatusEvent is broadcast on the WebSocket status stream when a
// sync job transitions state.
type SyncStatusEvent struct {
	Type        string     `json:"type"` // always "sync_status"
	EntityType  string     `json:"entityType"`
	Status      string     `json:"status"`
	RecordCount int64      `json:"recordCount"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
