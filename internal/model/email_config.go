package model

import (
	"time"
)

type EmailConfig struct {
	ID              int64     `db:"id" json:"id"`
	SMTPHost        string    `db:"smtp_host" json:"smtpHost"`
	SMTPPort        int       `db:"smtp_port" json:"smtpPort"`
	SenderEmail     string    `db:"sender_email" json:"senderEmail"`
	SenderPassword  string    `db:"sender_password" json:"-"`
	DefaultReceiver string    `db:"default_receiver" json:"defaultReceiver"`
	IsActive        bool      `db:"is_active" json:"isActive"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}
