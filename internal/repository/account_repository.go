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

const accountColumns = `id, role, email_enc, email_hash, full_name_enc, password_hash, active, force_password_change, subjects, created_at, updated_at`

// AccountRepository provides database access for accounts.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID returns an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1 LIMIT 1`, accountColumns)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}

// FindByEmailHash returns an account by its deterministic email lookup hash.
func (r *AccountRepository) FindByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE email_hash = $1 LIMIT 1`, accountColumns)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, emailHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by email hash: %w", err)
	}
	return &account, nil
}

// List returns accounts matching the filter with a total count.
func (r *AccountRepository) List(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error) {
	baseQuery := `FROM accounts WHERE 1=1`
	var args []interface{}

	if filter.Role != nil {
		args = append(args, *filter.Role)
		baseQuery += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		baseQuery += fmt.Sprintf(" AND active = $%d", len(args))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", accountColumns, baseQuery, pageSize, offset)

	var accounts []models.Account
	if err := r.db.SelectContext(ctx, &accounts, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count accounts: %w", err)
	}

	return accounts, total, nil
}

// ListActiveInstructors returns the candidate pool for reviewer assignment.
func (r *AccountRepository) ListActiveInstructors(ctx context.Context) ([]models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE role = $1 AND active = TRUE ORDER BY id`, accountColumns)
	var instructors []models.Account
	if err := r.db.SelectContext(ctx, &instructors, query, models.RoleInstructor); err != nil {
		return nil, fmt.Errorf("list active instructors: %w", err)
	}
	return instructors, nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	const query = `INSERT INTO accounts (id, role, email_enc, email_hash, full_name_enc, password_hash, active, force_password_change, subjects, created_at, updated_at)
		VALUES (:id, :role, :email_enc, :email_hash, :full_name_enc, :password_hash, :active, :force_password_change, :subjects, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Update updates mutable fields of an account.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	account.UpdatedAt = time.Now().UTC()
	const query = `UPDATE accounts SET full_name_enc = :full_name_enc, active = :active, subjects = :subjects, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash and force-change flag.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, forceChange bool, updatedAt time.Time) error {
	const query = `UPDATE accounts SET password_hash = $2, force_password_change = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, forceChange, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Deactivate performs a soft delete by marking the account inactive.
func (r *AccountRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE accounts SET active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	return nil
}

// HardDelete removes the account row entirely.
func (r *AccountRepository) HardDelete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("hard delete account: %w", err)
	}
	return nil
}
