package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

// AuditRepository appends entries to the audit log table. Entries carry the
// actor role only; the table holds no identity columns at all.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_entries (id, actor_role, action, resource_id, created_at)
		VALUES (:id, :actor_role, :action, :resource_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}
