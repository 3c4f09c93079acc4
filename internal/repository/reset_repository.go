package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

const resetColumns = `id, email_enc, email_hash, account_id, role, status, temp_password, created_at, completed_at`

// ResetRepository stores password-reset tickets.
type ResetRepository struct {
	db *sqlx.DB
}

// NewResetRepository creates a new instance of ResetRepository.
func NewResetRepository(db *sqlx.DB) *ResetRepository {
	return &ResetRepository{db: db}
}

// Create inserts a new ticket.
func (r *ResetRepository) Create(ctx context.Context, reset *models.PasswordReset) error {
	if reset.ID == "" {
		reset.ID = uuid.NewString()
	}
	if reset.CreatedAt.IsZero() {
		reset.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO password_resets (id, email_enc, email_hash, account_id, role, status, temp_password, created_at, completed_at)
		VALUES (:id, :email_enc, :email_hash, :account_id, :role, :status, :temp_password, :created_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, reset); err != nil {
		return fmt.Errorf("create reset ticket: %w", err)
	}
	return nil
}

// FindByID returns a ticket by identifier.
func (r *ResetRepository) FindByID(ctx context.Context, id string) (*models.PasswordReset, error) {
	query := fmt.Sprintf(`SELECT %s FROM password_resets WHERE id = $1 LIMIT 1`, resetColumns)
	var reset models.PasswordReset
	if err := r.db.GetContext(ctx, &reset, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find reset ticket: %w", err)
	}
	return &reset, nil
}

// List returns tickets, optionally restricted to a status, newest first.
func (r *ResetRepository) List(ctx context.Context, status *models.ResetStatus) ([]models.PasswordReset, error) {
	query := fmt.Sprintf(`SELECT %s FROM password_resets`, resetColumns)
	var args []interface{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`

	var resets []models.PasswordReset
	if err := r.db.SelectContext(ctx, &resets, query, args...); err != nil {
		return nil, fmt.Errorf("list reset tickets: %w", err)
	}
	return resets, nil
}

// Complete marks a pending ticket completed and stores the issued temporary
// password. The write is conditioned on pending status so a ticket is
// completed at most once.
func (r *ResetRepository) Complete(ctx context.Context, id, tempPassword string, completedAt time.Time) error {
	const query = `UPDATE password_resets SET status = $2, temp_password = $3, completed_at = $4 WHERE id = $1 AND status = $5`
	result, err := r.db.ExecContext(ctx, query, id, models.ResetCompleted, tempPassword, completedAt, models.ResetPending)
	if err != nil {
		return fmt.Errorf("complete reset ticket: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete reset ticket rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
