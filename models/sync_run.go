package models

import "time"

const (
	SyncTriggerStartup  = "startup"
	SyncTriggerSchedule = "schedule"
	SyncTriggerManual   = "manual"
)

const (
	SyncRunSucceeded = "succeeded"
	SyncRunFailed    = "failed"
)

// SyncRun is the audit row written at the end of every reconciliation cycle.
type SyncRun struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Source     string    `gorm:"type:varchar(32);not null;index:idx_sync_run_source,priority:1" json:"source"`
	Trigger    string    `gorm:"type:varchar(16);not null" json:"trigger"`
	Status     string    `gorm:"type:varchar(16);not null" json:"status"`
	Fetched    int       `json:"fetched"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `gorm:"not null;index:idx_sync_run_source,priority:2,sort:desc" json:"startedAt"`
	FinishedAt time.Time `gorm:"not null" json:"finishedAt"`
}
