package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

// SubjectRepository provides database access for subjects and their groups.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new instance of SubjectRepository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// FindByCode returns a subject with its groups.
func (r *SubjectRepository) FindByCode(ctx context.Context, code string) (*models.Subject, error) {
	const query = `SELECT code, name, created_at, updated_at FROM subjects WHERE code = $1 LIMIT 1`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subject by code: %w", err)
	}

	const groupQuery = `SELECT subject_code, group_name, instructor_id FROM subject_groups WHERE subject_code = $1 ORDER BY group_name`
	if err := r.db.SelectContext(ctx, &subject.Groups, groupQuery, code); err != nil {
		return nil, fmt.Errorf("load subject groups: %w", err)
	}
	return &subject, nil
}

// List returns all subjects with their groups.
func (r *SubjectRepository) List(ctx context.Context) ([]models.Subject, error) {
	const query = `SELECT code, name, created_at, updated_at FROM subjects ORDER BY code`
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query); err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}

	const groupQuery = `SELECT subject_code, group_name, instructor_id FROM subject_groups ORDER BY subject_code, group_name`
	var groups []models.SubjectGroup
	if err := r.db.SelectContext(ctx, &groups, groupQuery); err != nil {
		return nil, fmt.Errorf("list subject groups: %w", err)
	}

	byCode := make(map[string][]models.SubjectGroup, len(subjects))
	for _, group := range groups {
		byCode[group.SubjectCode] = append(byCode[group.SubjectCode], group)
	}
	for i := range subjects {
		subjects[i].Groups = byCode[subjects[i].Code]
	}
	return subjects, nil
}

// Create inserts a subject and its groups in one transaction.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	now := time.Now().UTC()
	subject.CreatedAt = now
	subject.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create subject: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO subjects (code, name, created_at, updated_at) VALUES (:code, :name, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	if err := insertGroups(ctx, tx, subject.Code, subject.Groups); err != nil {
		return err
	}
	return tx.Commit()
}

// Update replaces the subject name and its full group set.
func (r *SubjectRepository) Update(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update subject: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `UPDATE subjects SET name = :name, updated_at = :updated_at WHERE code = :code`
	if _, err := tx.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_groups WHERE subject_code = $1`, subject.Code); err != nil {
		return fmt.Errorf("clear subject groups: %w", err)
	}
	if err := insertGroups(ctx, tx, subject.Code, subject.Groups); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes the subject and its groups.
func (r *SubjectRepository) Delete(ctx context.Context, code string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete subject: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_groups WHERE subject_code = $1`, code); err != nil {
		return fmt.Errorf("delete subject groups: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return tx.Commit()
}

func insertGroups(ctx context.Context, tx *sqlx.Tx, code string, groups []models.SubjectGroup) error {
	const query = `INSERT INTO subject_groups (subject_code, group_name, instructor_id) VALUES ($1, $2, $3)`
	for _, group := range groups {
		if _, err := tx.ExecContext(ctx, query, code, group.GroupName, group.InstructorID); err != nil {
			return fmt.Errorf("create subject group: %w", err)
		}
	}
	return nil
}
