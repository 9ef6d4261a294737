package model

import (
	"encoding/json"
	"time"
)

// AttemptLog is one append-only record of a login attempt step.
type AttemptLog struct {
	ID        int64            `db:"id" json:"id"`
	AccountID int64            `db:"account_id" json:"accountId"`
	Level     LogLevel         `db:"level" json:"level"`
	Message   string           `db:"message" json:"message"`
	Details   *json.RawMessage `db:"details" json:"details,omitempty"`
	IsSuccess bool             `db:"is_success" json:"isSuccess"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

type AppendAttemptLogParams struct {
	AccountID int64
	Level     LogLevel
	Message   string
	Details   *json.RawMessage
	IsSuccess bool
}

type AttemptLogQuery struct {
	AccountID *int64
	Level     *LogLevel
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// AttemptLogView is an AttemptLog with the owning account's name resolved.
type AttemptLogView struct {
	AttemptLog
	AccountName string `json:"accountName"`
}
