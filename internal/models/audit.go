package models

import "time"

// AuditEntry records a state-changing call. Only the acting role is kept so
// operational logs cannot de-anonymize a party.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	ActorRole  Role      `db:"actor_role" json:"actor_role"`
	Action     string    `db:"action" json:"action"`
	ResourceID string    `db:"resource_id" json:"resource_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
