package model

import (
	"fmt"
	"time"
)

// Schedule mirrors the live timer of an account for display and restore.
// The orchestrator's in-memory timer is authoritative.
type Schedule struct {
	ID              int64      `db:"id" json:"id"`
	AccountID       int64      `db:"account_id" json:"accountId"`
	Name            string     `db:"name" json:"name"`
	IntervalMinutes int        `db:"interval_minutes" json:"intervalMinutes"`
	IsActive        bool       `db:"is_active" json:"isActive"`
	NextRunAt       *time.Time `db:"next_run_at" json:"nextRunAt,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
}

type UpsertScheduleParams struct {
	AccountID       int64
	Name            string
	IntervalMinutes int
	IsActive        bool
	NextRunAt       *time.Time
}

// DefaultScheduleName is the label used when a schedule is created without one.
func DefaultScheduleName(accountName string) string {
	return fmt.Sprintf("%s_scheduled_login", accountName)
}
