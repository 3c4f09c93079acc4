package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

type resetRepository interface {
	Create(ctx context.Context, reset *models.PasswordReset) error
	FindByID(ctx context.Context, id string) (*models.PasswordReset, error)
	List(ctx context.Context, status *models.ResetStatus) ([]models.PasswordReset, error)
	Complete(ctx context.Context, id, tempPassword string, completedAt time.Time) error
}

type resetAccountRepository interface {
	FindByEmailHash(ctx context.Context, emailHash string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, forceChange bool, updatedAt time.Time) error
}

// RequestResetRequest is the unauthenticated reset petition payload.
type RequestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetService files password-reset tickets and lets deans resolve them by
// issuing temporary passwords. The petition endpoint never reveals whether
// an account exists for the given email.
type ResetService struct {
	resets    resetRepository
	accounts  resetAccountRepository
	vault     piiVault
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewResetService constructs ResetService.
func NewResetService(resets resetRepository, accounts resetAccountRepository, piiVault piiVault, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *ResetService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResetService{resets: resets, accounts: accounts, vault: piiVault, audit: audit, validator: validate, logger: logger}
}

// Request files a ticket for the given email. The response carries no hint
// of whether the email matched an account; the match result is only stored
// on the ticket for the dean.
func (s *ResetService) Request(ctx context.Context, req RequestResetRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}

	emailEnc, err := s.vault.Encrypt(req.Email)
	if err != nil {
		return err
	}
	emailHash := vault.LookupHash(req.Email)

	reset := &models.PasswordReset{
		EmailEnc:  emailEnc,
		EmailHash: emailHash,
		Status:    models.ResetPending,
	}
	if account, err := s.accounts.FindByEmailHash(ctx, emailHash); err == nil {
		reset.AccountID = &account.ID
		role := account.Role
		reset.Role = &role
	} else if !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to match reset email")
	}

	if err := s.resets.Create(ctx, reset); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to file reset ticket")
	}
	return nil
}

// List returns tickets for the dean, optionally filtered by status.
func (s *ResetService) List(ctx context.Context, actor models.AuthContext, status *models.ResetStatus) ([]models.PasswordResetView, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may list reset tickets")
	}

	resets, err := s.resets.List(ctx, status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reset tickets")
	}

	views := make([]models.PasswordResetView, 0, len(resets))
	for i := range resets {
		view, err := s.buildView(&resets[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// Complete resolves a pending ticket: a temporary password is issued for
// the matched account and surfaced to the dean exactly once.
func (s *ResetService) Complete(ctx context.Context, actor models.AuthContext, ticketID string) (*models.PasswordResetView, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may complete reset tickets")
	}

	reset, err := s.resets.FindByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "reset ticket not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reset ticket")
	}
	if reset.AccountID == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "ticket email matches no account")
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate temporary password")
	}

	// Completing first, conditioned on pending status, guarantees a ticket
	// is resolved at most once even under concurrent deans.
	now := time.Now().UTC()
	if err := s.resets.Complete(ctx, reset.ID, tempPassword, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "ticket already completed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete reset ticket")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.accounts.UpdatePassword(ctx, *reset.AccountID, string(passwordHash), true, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set temporary password")
	}

	s.audit.Record(ctx, actor.Role, "RESET_COMPLETED", reset.ID)

	reset.Status = models.ResetCompleted
	reset.TempPassword = &tempPassword
	reset.CompletedAt = &now
	return s.buildView(reset)
}

func (s *ResetService) buildView(reset *models.PasswordReset) (*models.PasswordResetView, error) {
	email, err := s.vault.Decrypt(reset.EmailEnc)
	if err != nil {
		return nil, err
	}
	return &models.PasswordResetView{
		ID:           reset.ID,
		Email:        email,
		AccountID:    reset.AccountID,
		Role:         reset.Role,
		Status:       reset.Status,
		TempPassword: reset.TempPassword,
		CreatedAt:    reset.CreatedAt,
		CompletedAt:  reset.CompletedAt,
	}, nil
}
