package models

import (
	"time"

	"github.com/lib/pq"
)

// Role represents the available roles for the RBAC system.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleDean       Role = "DEAN"
)

// Label returns the display label used when pseudonymizing a party.
func (r Role) Label() string {
	switch r {
	case RoleStudent:
		return "Student"
	case RoleInstructor:
		return "Instructor"
	case RoleDean:
		return "Dean"
	default:
		return "User"
	}
}

// Account represents a student, instructor or dean stored in the accounts
// table. Email and full name are held only as vault ciphertext; the email
// lookup hash is a deterministic digest used purely as a uniqueness index.
type Account struct {
	ID                  string         `db:"id" json:"id"`
	Role                Role           `db:"role" json:"role"`
	EmailEnc            string         `db:"email_enc" json:"-"`
	EmailHash           string         `db:"email_hash" json:"-"`
	FullNameEnc         string         `db:"full_name_enc" json:"-"`
	PasswordHash        string         `db:"password_hash" json:"-"`
	Active              bool           `db:"active" json:"active"`
	ForcePasswordChange bool           `db:"force_password_change" json:"force_password_change"`
	Subjects            pq.StringArray `db:"subjects" json:"subjects"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// AccountView is an account with PII resolved for an authorized viewer.
type AccountView struct {
	ID                  string    `json:"id"`
	Role                Role      `json:"role"`
	Email               string    `json:"email"`
	FullName            string    `json:"full_name"`
	Active              bool      `json:"active"`
	ForcePasswordChange bool      `json:"force_password_change"`
	Subjects            []string  `json:"subjects,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// AccountFilter captures filtering criteria for listing accounts.
type AccountFilter struct {
	Role     *Role
	Active   *bool
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
