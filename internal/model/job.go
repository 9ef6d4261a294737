package model

import (
	"fmt"
	"time"
)

const DailyDigestJobID = "daily_log_email"

// AccountJobID returns the orchestrator job id for an account.
func AccountJobID(accountID int64) string {
	return fmt.Sprintf("account_%d_login", accountID)
}

type JobStatus struct {
	ID              string     `json:"id"`
	AccountID       *int64     `json:"accountId,omitempty"`
	Name            string     `json:"name"`
	Active          bool       `json:"active"`
	Running         bool       `json:"running"`
	IntervalMinutes int        `json:"intervalMinutes,omitempty"`
	Trigger         string     `json:"trigger"`
	NextRunAt       *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	LastSuccess     *bool      `json:"lastSuccess,omitempty"`
	LastMessage     string     `json:"lastMessage,omitempty"`
}
