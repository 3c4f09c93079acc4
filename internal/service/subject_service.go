package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/pkg/config"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

const subjectsCacheKey = "subjects:all"

type subjectAdminRepository interface {
	FindByCode(ctx context.Context, code string) (*models.Subject, error)
	List(ctx context.Context) ([]models.Subject, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, code string) error
}

type requestCounter interface {
	CountBySubject(ctx context.Context, subjectCode string) (int, error)
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SubjectGroupInput binds a group to its instructor in subject payloads.
type SubjectGroupInput struct {
	GroupName    string `json:"group_name" validate:"required"`
	InstructorID string `json:"instructor_id" validate:"required"`
}

// CreateSubjectRequest is the dean's subject creation payload.
type CreateSubjectRequest struct {
	Code   string              `json:"code" validate:"required"`
	Name   string              `json:"name" validate:"required"`
	Groups []SubjectGroupInput `json:"groups" validate:"dive"`
}

// UpdateSubjectRequest replaces the subject name and its full group set.
type UpdateSubjectRequest struct {
	Name   string              `json:"name" validate:"required"`
	Groups []SubjectGroupInput `json:"groups" validate:"dive"`
}

// SubjectService manages the subject catalog. The full listing is cached;
// every write invalidates the cached copy.
type SubjectService struct {
	subjects  subjectAdminRepository
	requests  requestCounter
	accounts  accountReader
	cache     cacheStore
	cacheCfg  config.CacheConfig
	audit     auditRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService constructs SubjectService.
func NewSubjectService(subjects subjectAdminRepository, requests requestCounter, accounts accountReader, cache cacheStore, cacheCfg config.CacheConfig, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{
		subjects:  subjects,
		requests:  requests,
		accounts:  accounts,
		cache:     cache,
		cacheCfg:  cacheCfg,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns the subject catalog, served from cache when possible.
func (s *SubjectService) List(ctx context.Context) ([]models.Subject, error) {
	if s.cacheCfg.Enabled && s.cache != nil {
		var cached []models.Subject
		if err := s.cache.Get(ctx, subjectsCacheKey, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("subject cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}

	if s.cacheCfg.Enabled && s.cache != nil {
		if err := s.cache.Set(ctx, subjectsCacheKey, subjects, s.cacheCfg.TTL); err != nil {
			s.logger.Warn("subject cache write failed", zap.Error(err))
		}
	}
	return subjects, nil
}

// Get returns one subject with its groups.
func (s *SubjectService) Get(ctx context.Context, code string) (*models.Subject, error) {
	subject, err := s.subjects.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}

// Create adds a subject and its groups.
func (s *SubjectService) Create(ctx context.Context, actor models.AuthContext, req CreateSubjectRequest) (*models.Subject, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may manage subjects")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	if _, err := s.subjects.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}

	groups, err := s.resolveGroups(ctx, req.Code, req.Groups)
	if err != nil {
		return nil, err
	}

	subject := &models.Subject{Code: req.Code, Name: req.Name, Groups: groups}
	if err := s.subjects.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	s.audit.Record(ctx, actor.Role, "SUBJECT_CREATED", subject.Code)
	s.invalidate(ctx)
	return subject, nil
}

// Update replaces the subject name and group set.
func (s *SubjectService) Update(ctx context.Context, actor models.AuthContext, code string, req UpdateSubjectRequest) (*models.Subject, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may manage subjects")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	subject, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}

	groups, err := s.resolveGroups(ctx, code, req.Groups)
	if err != nil {
		return nil, err
	}

	subject.Name = req.Name
	subject.Groups = groups
	if err := s.subjects.Update(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subject")
	}
	s.audit.Record(ctx, actor.Role, "SUBJECT_UPDATED", subject.Code)
	s.invalidate(ctx)
	return subject, nil
}

// Delete removes a subject unless regrade requests reference it.
func (s *SubjectService) Delete(ctx context.Context, actor models.AuthContext, code string) error {
	if actor.Role != models.RoleDean {
		return appErrors.Clone(appErrors.ErrForbidden, "only deans may manage subjects")
	}
	if _, err := s.Get(ctx, code); err != nil {
		return err
	}

	count, err := s.requests.CountBySubject(ctx, code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count subject requests")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("subject has %d regrade requests and cannot be deleted", count))
	}

	if err := s.subjects.Delete(ctx, code); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	s.audit.Record(ctx, actor.Role, "SUBJECT_DELETED", code)
	s.invalidate(ctx)
	return nil
}

// resolveGroups validates that every group instructor exists, is active and
// actually holds the instructor role.
func (s *SubjectService) resolveGroups(ctx context.Context, code string, inputs []SubjectGroupInput) ([]models.SubjectGroup, error) {
	groups := make([]models.SubjectGroup, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		if seen[input.GroupName] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate group %s", input.GroupName))
		}
		seen[input.GroupName] = true

		account, err := s.accounts.FindByID(ctx, input.InstructorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("instructor %s not found", input.InstructorID))
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
		}
		if account.Role != models.RoleInstructor || !account.Active {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("account %s is not an active instructor", input.InstructorID))
		}
		groups = append(groups, models.SubjectGroup{SubjectCode: code, GroupName: input.GroupName, InstructorID: input.InstructorID})
	}
	return groups, nil
}

func (s *SubjectService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, subjectsCacheKey); err != nil {
		s.logger.Warn("subject cache invalidation failed", zap.Error(err))
	}
}
