package domain

import (
	"time"
)

// RunStatus is the lifecycle of one reconciliation run.
type RunStatus string

const (
	RunPending    RunStatus = "PENDING"
	RunProcessing RunStatus = "PROCESSING"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
)

// RunMode selects whether a run only computes results or also commits them.
type RunMode string

const (
	ModeDryRun RunMode = "dry_run"
	ModeWrite  RunMode = "write"
)

// ReconciliationRun tracks one batch execution of the engine: its filters,
// mode, progress checkpoint and aggregate counters.
type ReconciliationRun struct {
	ID              int64     `json:"id" db:"id"`
	RunID           string    `json:"run_id" db:"run_id"`
	Profile         string    `json:"profile" db:"profile"`
	Mode            RunMode   `json:"mode" db:"mode"`
	AccountID       string    `json:"account_id,omitempty" db:"account_id"`
	StartDate       time.Time `json:"start_date" db:"start_date"`
	EndDate         time.Time `json:"end_date" db:"end_date"`
	Status          RunStatus `json:"status" db:"status"`
	TotalProcessed  int       `json:"total_processed" db:"total_processed"`
	TotalMatched    int       `json:"total_matched" db:"total_matched"`
	TotalPartial    int       `json:"total_partial" db:"total_partial"`
	TotalUnmatched  int       `json:"total_unmatched" db:"total_unmatched"`
	TotalAmbiguous  int       `json:"total_ambiguous" db:"total_ambiguous"`
	TotalDuplicates int       `json:"total_duplicates" db:"total_duplicates"`
	TotalReversals  int       `json:"total_reversals" db:"total_reversals"`
	// Checkpoint holds the highest transaction id committed per account so an
	// interrupted run can resume without redoing finished work.
	Checkpoint   map[string]int64 `json:"checkpoint,omitempty" db:"-"`
	ErrorMessage *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// RunSummary is the caller-facing report of a run. A dry run returns the
// same shape without anything having been written.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Profile         string        `json:"profile"`
	Mode            RunMode       `json:"mode"`
	TotalProcessed  int           `json:"total_processed"`
	TotalMatched    int           `json:"total_matched"`
	TotalPartial    int           `json:"total_partial"`
	TotalUnmatched  int           `json:"total_unmatched"`
	TotalAmbiguous  int           `json:"total_ambiguous"`
	TotalDuplicates int           `json:"total_duplicates"`
	TotalReversals  int           `json:"total_reversals"`
	Records         []MatchRecord `json:"records,omitempty"`
	ReviewItems     []ReviewItem  `json:"review_items,omitempty"`
}
