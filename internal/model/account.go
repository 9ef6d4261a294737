package model

import (
	"time"
)

// Account is a CMS login the service keeps signed in. Accounts are managed
// outside this service; the login engine only reads them.
type Account struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	LoginName         string    `db:"login_name" json:"loginName"`
	Secret            string    `db:"secret" json:"-"`
	IsActive          bool      `db:"is_active" json:"isActive"`
	EmailNotification bool      `db:"email_notification" json:"emailNotification"`
	CustomEmail       *string   `db:"custom_email" json:"customEmail,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// Recipient returns the override address or fallback when none is set.
func (a *Account) Recipient(fallback string) string {
	if a.CustomEmail != nil && *a.CustomEmail != "" {
		return *a.CustomEmail
	}
	return fallback
}

type AccountFilter struct {
	ActiveOnly       bool
	NotificationOnly bool
}

// CreateAccountParams is used by seeding tools and tests; account management
// itself lives in the admin surface.
type CreateAccountParams struct {
	Name              string
	LoginName         string
	Secret            string
	IsActive          bool
	EmailNotification bool
	CustomEmail       *string
}
