package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

const requestColumns = `id, student_id, subject_code, group_name, component, original_grade, original_instructor_id, reason_enc, evidence_url, status, reviewer_id, new_grade, reviewer_comment_enc, rejection_reason, history, created_at, updated_at`

// RequestRepository is the ledger for regrade requests. Status transitions go
// through Transition, which conditions the write on the status the caller
// last read; a lost race surfaces as a conflict, never a silent overwrite.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository creates a new instance of RequestRepository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request.
func (r *RequestRepository) Create(ctx context.Context, request *models.RegradeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	const query = `INSERT INTO regrade_requests (id, student_id, subject_code, group_name, component, original_grade, original_instructor_id, reason_enc, evidence_url, status, history, created_at, updated_at)
		VALUES (:id, :student_id, :subject_code, :group_name, :component, :original_grade, :original_instructor_id, :reason_enc, :evidence_url, :status, :history, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// FindByID returns a request by identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.RegradeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM regrade_requests WHERE id = $1 LIMIT 1`, requestColumns)
	var request models.RegradeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find request by id: %w", err)
	}
	return &request, nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.RegradeRequest, error) {
	baseQuery := `FROM regrade_requests WHERE 1=1`
	var args []interface{}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		baseQuery += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if filter.ReviewerID != "" {
		args = append(args, filter.ReviewerID)
		baseQuery += fmt.Sprintf(" AND reviewer_id = $%d", len(args))
	}
	if filter.SubjectCode != "" {
		args = append(args, filter.SubjectCode)
		baseQuery += fmt.Sprintf(" AND subject_code = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		baseQuery += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC", requestColumns, baseQuery)
	var requests []models.RegradeRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// CountBySubject reports how many requests reference a subject. Subjects with
// a non-zero count cannot be deleted.
func (r *RequestRepository) CountBySubject(ctx context.Context, subjectCode string) (int, error) {
	const query = `SELECT COUNT(*) FROM regrade_requests WHERE subject_code = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, subjectCode); err != nil {
		return 0, fmt.Errorf("count requests by subject: %w", err)
	}
	return count, nil
}

// Transition applies a status change conditioned on the expected pre-state.
// The whole transition (status, side fields, history records) is a single
// row update: it either fully applies or not at all. When the stored status
// differs from expected the caller lost a race and receives a conflict.
func (r *RequestRepository) Transition(ctx context.Context, id string, expected models.RequestStatus, update models.TransitionUpdate, records ...models.TransitionRecord) error {
	entry, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal transition records: %w", err)
	}

	const query = `UPDATE regrade_requests SET
		status = $3,
		reviewer_id = COALESCE($4, reviewer_id),
		new_grade = COALESCE($5, new_grade),
		reviewer_comment_enc = COALESCE($6, reviewer_comment_enc),
		rejection_reason = COALESCE($7, rejection_reason),
		history = history || $8::jsonb,
		updated_at = $9
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, expected, update.Status, update.ReviewerID, update.NewGrade, update.ReviewerCommentEnc, update.RejectionReason, entry, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition request rows: %w", err)
	}
	if affected == 0 {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return findErr
		}
		return appErrors.Clone(appErrors.ErrConflict, "request status changed since it was read")
	}
	return nil
}
