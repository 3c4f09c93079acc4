package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	"github.com/LilT0ny/BlindCheckSystem/pkg/config"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

type requestLedger interface {
	Create(ctx context.Context, request *models.RegradeRequest) error
	FindByID(ctx context.Context, id string) (*models.RegradeRequest, error)
	List(ctx context.Context, filter models.RequestFilter) ([]models.RegradeRequest, error)
	Transition(ctx context.Context, id string, expected models.RequestStatus, update models.TransitionUpdate, records ...models.TransitionRecord) error
}

type accountReader interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	ListActiveInstructors(ctx context.Context) ([]models.Account, error)
}

type subjectReader interface {
	FindByCode(ctx context.Context, code string) (*models.Subject, error)
}

type piiVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type reviewerSelector interface {
	Eligible(request *models.RegradeRequest, candidate *models.Account) error
	SelectReviewer(request *models.RegradeRequest, candidates []models.Account) (string, error)
}

type auditRecorder interface {
	Record(ctx context.Context, actorRole models.Role, action, resourceID string)
}

// SubmitRequestRequest is the student-facing creation payload.
type SubmitRequestRequest struct {
	SubjectCode   string  `json:"subject_code" validate:"required"`
	GroupName     string  `json:"group_name" validate:"required"`
	Component     string  `json:"component" validate:"required"`
	OriginalGrade float64 `json:"original_grade"`
	Reason        string  `json:"reason" validate:"required"`
	EvidenceURL   *string `json:"evidence_url" validate:"omitempty,url"`
}

// DecideRequestRequest is the dean's triage payload.
type DecideRequestRequest struct {
	Decision        string `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	RejectionReason string `json:"rejection_reason"`
}

// AssignReviewerRequest names the reviewer for a manual assignment.
type AssignReviewerRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`
}

// GradeRequestRequest is the reviewer's resolution payload.
type GradeRequestRequest struct {
	NewGrade float64 `json:"new_grade"`
	Comment  string  `json:"comment" validate:"required"`
}

// WorkflowService drives regrade requests through their lifecycle. Every
// status change goes through the ledger's conditional transition, so two
// racing actors can never both win; the loser gets a conflict.
type WorkflowService struct {
	requests  requestLedger
	accounts  accountReader
	subjects  subjectReader
	selector  reviewerSelector
	vault     piiVault
	notifier  Notifier
	audit     auditRecorder
	metrics   *MetricsService
	cfg       config.WorkflowConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWorkflowService constructs WorkflowService. A nil metrics service
// disables instrumentation.
func NewWorkflowService(requests requestLedger, accounts accountReader, subjects subjectReader, selector reviewerSelector, piiVault piiVault, notifier Notifier, audit auditRecorder, metrics *MetricsService, cfg config.WorkflowConfig, validate *validator.Validate, logger *zap.Logger) *WorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		requests:  requests,
		accounts:  accounts,
		subjects:  subjects,
		selector:  selector,
		vault:     piiVault,
		notifier:  notifier,
		audit:     audit,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// Submit files a new regrade request for the acting student. The original
// instructor is resolved from the subject group binding, never from client
// input, so the exclusion rule cannot be gamed.
func (s *WorkflowService) Submit(ctx context.Context, actor models.AuthContext, req SubmitRequestRequest) (*models.RequestView, error) {
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students may file regrade requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	if req.OriginalGrade < s.cfg.GradeMin || req.OriginalGrade > s.cfg.GradeMax {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("original grade must be between %.1f and %.1f", s.cfg.GradeMin, s.cfg.GradeMax))
	}

	subject, err := s.subjects.FindByCode(ctx, req.SubjectCode)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	group := findGroup(subject, req.GroupName)
	if group == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found for subject")
	}

	reasonEnc, err := s.vault.Encrypt(req.Reason)
	if err != nil {
		return nil, err
	}

	request := &models.RegradeRequest{
		StudentID:            actor.AccountID,
		SubjectCode:          req.SubjectCode,
		GroupName:            req.GroupName,
		Component:            req.Component,
		OriginalGrade:        req.OriginalGrade,
		OriginalInstructorID: group.InstructorID,
		ReasonEnc:            reasonEnc,
		EvidenceURL:          req.EvidenceURL,
		Status:               models.StatusPending,
		History: models.TransitionHistory{
			{Timestamp: time.Now().UTC(), Action: models.ActionCreated, ActorRole: actor.Role},
		},
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.audit.Record(ctx, actor.Role, models.ActionCreated, request.ID)
	s.metrics.RecordTransition(models.ActionCreated)
	s.notifier.Send(ctx, actor.AccountID, "Request received",
		fmt.Sprintf("Your regrade request %s was filed and is pending review.", request.ID))

	return s.buildView(ctx, request, actor)
}

// Decide approves or rejects a pending request. Approval either moves the
// request to the assignment queue or, when auto-assignment is on, picks a
// reviewer immediately and starts the review in the same transition.
func (s *WorkflowService) Decide(ctx context.Context, actor models.AuthContext, requestID string, req DecideRequestRequest) (*models.RequestView, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may decide requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s, only pending requests can be decided", request.Status))
	}

	now := time.Now().UTC()

	if req.Decision == "REJECT" {
		if req.RejectionReason == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason required")
		}
		update := models.TransitionUpdate{Status: models.StatusRejected, RejectionReason: &req.RejectionReason}
		record := models.TransitionRecord{Timestamp: now, Action: models.ActionRejected, ActorRole: actor.Role}
		if err := s.requests.Transition(ctx, request.ID, models.StatusPending, update, record); err != nil {
			return nil, s.transitionError(err)
		}
		s.audit.Record(ctx, actor.Role, models.ActionRejected, request.ID)
		s.metrics.RecordTransition(models.ActionRejected)
		s.notifier.Send(ctx, request.StudentID, "Request rejected",
			fmt.Sprintf("Your regrade request %s was rejected: %s", request.ID, req.RejectionReason))
		return s.reload(ctx, request.ID, actor)
	}

	if !s.cfg.AutoAssign {
		update := models.TransitionUpdate{Status: models.StatusPendingAssignment}
		record := models.TransitionRecord{Timestamp: now, Action: models.ActionApproved, ActorRole: actor.Role}
		if err := s.requests.Transition(ctx, request.ID, models.StatusPending, update, record); err != nil {
			return nil, s.transitionError(err)
		}
		s.audit.Record(ctx, actor.Role, models.ActionApproved, request.ID)
		s.metrics.RecordTransition(models.ActionApproved)
		s.notifier.Send(ctx, request.StudentID, "Request approved",
			fmt.Sprintf("Your regrade request %s was approved and awaits a reviewer.", request.ID))
		return s.reload(ctx, request.ID, actor)
	}

	candidates, err := s.accounts.ListActiveInstructors(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer pool")
	}
	reviewerID, err := s.selector.SelectReviewer(request, candidates)
	if err != nil {
		return nil, err
	}

	update := models.TransitionUpdate{Status: models.StatusInReview, ReviewerID: &reviewerID}
	records := []models.TransitionRecord{
		{Timestamp: now, Action: models.ActionApproved, ActorRole: actor.Role},
		{Timestamp: now, Action: models.ActionAssigned, ActorRole: actor.Role},
	}
	if err := s.requests.Transition(ctx, request.ID, models.StatusPending, update, records...); err != nil {
		return nil, s.transitionError(err)
	}
	s.audit.Record(ctx, actor.Role, models.ActionApproved, request.ID)
	s.audit.Record(ctx, actor.Role, models.ActionAssigned, request.ID)
	s.metrics.RecordTransition(models.ActionApproved)
	s.metrics.RecordTransition(models.ActionAssigned)
	s.notifier.Send(ctx, request.StudentID, "Request approved",
		fmt.Sprintf("Your regrade request %s was approved and is under review.", request.ID))
	s.notifier.Send(ctx, reviewerID, "Review assigned",
		fmt.Sprintf("Regrade request %s has been assigned to you for review.", request.ID))
	return s.reload(ctx, request.ID, actor)
}

// Assign manually binds a reviewer to an approved request awaiting one.
func (s *WorkflowService) Assign(ctx context.Context, actor models.AuthContext, requestID string, req AssignReviewerRequest) (*models.RequestView, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may assign reviewers")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.StatusPendingAssignment {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s, only approved requests awaiting assignment can be assigned", request.Status))
	}

	reviewer, err := s.accounts.FindByID(ctx, req.ReviewerID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidAssignment, "reviewer account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reviewer")
	}
	if err := s.selector.Eligible(request, reviewer); err != nil {
		return nil, err
	}

	update := models.TransitionUpdate{Status: models.StatusInReview, ReviewerID: &reviewer.ID}
	record := models.TransitionRecord{Timestamp: time.Now().UTC(), Action: models.ActionAssigned, ActorRole: actor.Role}
	if err := s.requests.Transition(ctx, request.ID, models.StatusPendingAssignment, update, record); err != nil {
		return nil, s.transitionError(err)
	}
	s.audit.Record(ctx, actor.Role, models.ActionAssigned, request.ID)
	s.metrics.RecordTransition(models.ActionAssigned)
	s.notifier.Send(ctx, request.StudentID, "Reviewer assigned",
		fmt.Sprintf("Your regrade request %s is under review.", request.ID))
	s.notifier.Send(ctx, reviewer.ID, "Review assigned",
		fmt.Sprintf("Regrade request %s has been assigned to you for review.", request.ID))
	return s.reload(ctx, request.ID, actor)
}

// Grade records the assigned reviewer's resolution and closes the request.
func (s *WorkflowService) Grade(ctx context.Context, actor models.AuthContext, requestID string, req GradeRequestRequest) (*models.RequestView, error) {
	if actor.Role != models.RoleInstructor {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only instructors may grade requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grading payload")
	}
	if req.NewGrade < s.cfg.GradeMin || req.NewGrade > s.cfg.GradeMax {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("new grade must be between %.1f and %.1f", s.cfg.GradeMin, s.cfg.GradeMax))
	}

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.StatusInReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s, only requests in review can be graded", request.Status))
	}
	if request.ReviewerID == nil || *request.ReviewerID != actor.AccountID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "request is assigned to a different reviewer")
	}

	commentEnc, err := s.vault.Encrypt(req.Comment)
	if err != nil {
		return nil, err
	}

	update := models.TransitionUpdate{Status: models.StatusGraded, NewGrade: &req.NewGrade, ReviewerCommentEnc: &commentEnc}
	record := models.TransitionRecord{Timestamp: time.Now().UTC(), Action: models.ActionGraded, ActorRole: actor.Role}
	if err := s.requests.Transition(ctx, request.ID, models.StatusInReview, update, record); err != nil {
		return nil, s.transitionError(err)
	}
	s.audit.Record(ctx, actor.Role, models.ActionGraded, request.ID)
	s.metrics.RecordTransition(models.ActionGraded)
	s.notifier.Send(ctx, request.StudentID, "Request graded",
		fmt.Sprintf("Your regrade request %s has been resolved.", request.ID))
	return s.reload(ctx, request.ID, actor)
}

// ListForViewer returns the requests the actor may see: students their own,
// instructors the ones assigned to them, deans everything.
func (s *WorkflowService) ListForViewer(ctx context.Context, actor models.AuthContext, filter models.RequestFilter) ([]models.RequestView, error) {
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.AccountID
		filter.ReviewerID = ""
	case models.RoleInstructor:
		filter.ReviewerID = actor.AccountID
		filter.StudentID = ""
	case models.RoleDean:
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}

	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}

	views := make([]models.RequestView, 0, len(requests))
	for i := range requests {
		view, err := s.buildView(ctx, &requests[i], actor)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// GetForViewer returns one request if the actor is a party to it or a dean.
func (s *WorkflowService) GetForViewer(ctx context.Context, actor models.AuthContext, requestID string) (*models.RequestView, error) {
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, request) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	return s.buildView(ctx, request, actor)
}

func (s *WorkflowService) loadRequest(ctx context.Context, id string) (*models.RegradeRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

func (s *WorkflowService) reload(ctx context.Context, id string, actor models.AuthContext) (*models.RequestView, error) {
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, request, actor)
}

func (s *WorkflowService) transitionError(err error) error {
	if appErrors.Is(err, appErrors.ErrConflict) {
		s.metrics.RecordConflict()
		return err
	}
	if err == sql.ErrNoRows {
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
}

// buildView resolves ciphertext and reduces party identities to what the
// viewer may see. Parties other than the viewer appear under their stable
// pseudonym unless the viewer is a dean acting in administrative capacity.
func (s *WorkflowService) buildView(ctx context.Context, request *models.RegradeRequest, viewer models.AuthContext) (*models.RequestView, error) {
	reason, err := s.vault.Decrypt(request.ReasonEnc)
	if err != nil {
		return nil, err
	}

	view := &models.RequestView{
		ID:              request.ID,
		SubjectCode:     request.SubjectCode,
		GroupName:       request.GroupName,
		Component:       request.Component,
		OriginalGrade:   request.OriginalGrade,
		Reason:          reason,
		EvidenceURL:     request.EvidenceURL,
		Status:          request.Status,
		NewGrade:        request.NewGrade,
		RejectionReason: request.RejectionReason,
		History:         request.History,
		CreatedAt:       request.CreatedAt,
		UpdatedAt:       request.UpdatedAt,
	}

	view.Student, err = s.partyLabel(ctx, viewer, request.StudentID, models.RoleStudent)
	if err != nil {
		return nil, err
	}
	if request.ReviewerID != nil {
		view.Reviewer, err = s.partyLabel(ctx, viewer, *request.ReviewerID, models.RoleInstructor)
		if err != nil {
			return nil, err
		}
	}
	if request.ReviewerCommentEnc != nil {
		view.ReviewerComment, err = s.vault.Decrypt(*request.ReviewerCommentEnc)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}

// partyLabel returns the real name for the party itself and for deans, and
// the role-prefixed pseudonym for everyone else.
func (s *WorkflowService) partyLabel(ctx context.Context, viewer models.AuthContext, partyID string, partyRole models.Role) (string, error) {
	if viewer.Role != models.RoleDean && viewer.AccountID != partyID {
		return vault.Pseudonym(partyID, partyRole.Label()), nil
	}
	account, err := s.accounts.FindByID(ctx, partyID)
	if err != nil {
		if err == sql.ErrNoRows {
			// The account was removed; the pseudonym is all that is left.
			return vault.Pseudonym(partyID, partyRole.Label()), nil
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load party account")
	}
	return s.vault.Decrypt(account.FullNameEnc)
}

func canView(actor models.AuthContext, request *models.RegradeRequest) bool {
	switch actor.Role {
	case models.RoleDean:
		return true
	case models.RoleStudent:
		return request.StudentID == actor.AccountID
	case models.RoleInstructor:
		return request.ReviewerID != nil && *request.ReviewerID == actor.AccountID
	default:
		return false
	}
}

func findGroup(subject *models.Subject, groupName string) *models.SubjectGroup {
	for i := range subject.Groups {
		if subject.Groups[i].GroupName == groupName {
			return &subject.Groups[i]
		}
	}
	return nil
}
