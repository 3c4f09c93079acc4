package models

import "time"

// ResetStatus enumerates password-reset ticket states.
type ResetStatus string

const (
	ResetPending   ResetStatus = "PENDING"
	ResetCompleted ResetStatus = "COMPLETED"
)

// PasswordReset is a reset ticket. The email is stored as vault ciphertext
// plus its lookup hash; the temporary password is plaintext by design, it is
// short-lived and handed to the dean exactly once.
type PasswordReset struct {
	ID           string      `db:"id" json:"id"`
	EmailEnc     string      `db:"email_enc" json:"-"`
	EmailHash    string      `db:"email_hash" json:"-"`
	AccountID    *string     `db:"account_id" json:"account_id,omitempty"`
	Role         *Role       `db:"role" json:"role,omitempty"`
	Status       ResetStatus `db:"status" json:"status"`
	TempPassword *string     `db:"temp_password" json:"-"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// PasswordResetView resolves a ticket for the dean.
type PasswordResetView struct {
	ID           string      `json:"id"`
	Email        string      `json:"email"`
	AccountID    *string     `json:"account_id,omitempty"`
	Role         *Role       `json:"role,omitempty"`
	Status       ResetStatus `json:"status"`
	TempPassword *string     `json:"temp_password,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}
