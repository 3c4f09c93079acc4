package models

import "time"

// Notification is a fire-and-forget message delivered to an account inbox.
type Notification struct {
	ID          string    `db:"id" json:"id"`
	RecipientID string    `db:"recipient_id" json:"recipient_id"`
	Subject     string    `db:"subject" json:"subject"`
	Body        string    `db:"body" json:"body"`
	Read        bool      `db:"read" json:"read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
