package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

type accountAdminRepository interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByEmailHash(ctx context.Context, emailHash string) (*models.Account, error)
	List(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error)
	Create(ctx context.Context, account *models.Account) error
	Update(ctx context.Context, account *models.Account) error
	UpdatePassword(ctx context.Context, id, passwordHash string, forceChange bool, updatedAt time.Time) error
	Deactivate(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
}

// CreateAccountRequest is the dean's provisioning payload.
type CreateAccountRequest struct {
	Role     models.Role `json:"role" validate:"required,oneof=STUDENT INSTRUCTOR DEAN"`
	Email    string      `json:"email" validate:"required,email"`
	FullName string      `json:"full_name" validate:"required"`
	Subjects []string    `json:"subjects"`
}

// UpdateAccountRequest carries the mutable account fields. Nil fields keep
// their stored value.
type UpdateAccountRequest struct {
	FullName *string   `json:"full_name"`
	Active   *bool     `json:"active"`
	Subjects *[]string `json:"subjects"`
}

// CreatedAccount is returned from provisioning: the account plus its
// temporary password, surfaced exactly once.
type CreatedAccount struct {
	Account      models.AccountView `json:"account"`
	TempPassword string             `json:"temp_password"`
}

// AccountService manages accounts on behalf of deans. PII goes through the
// vault in both directions; uniqueness checks use the email lookup hash.
type AccountService struct {
	accounts  accountAdminRepository
	vault     piiVault
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAccountService constructs AccountService.
func NewAccountService(accounts accountAdminRepository, piiVault piiVault, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{accounts: accounts, vault: piiVault, audit: audit, validator: validate, logger: logger}
}

// Create provisions an account with a generated temporary password that the
// holder must change on first login.
func (s *AccountService) Create(ctx context.Context, actor models.AuthContext, req CreateAccountRequest) (*CreatedAccount, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may manage accounts")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}

	emailHash := vault.LookupHash(req.Email)
	if _, err := s.accounts.FindByEmailHash(ctx, emailHash); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicateEmail, "")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate temporary password")
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	emailEnc, err := s.vault.Encrypt(req.Email)
	if err != nil {
		return nil, err
	}
	nameEnc, err := s.vault.Encrypt(req.FullName)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Role:                req.Role,
		EmailEnc:            emailEnc,
		EmailHash:           emailHash,
		FullNameEnc:         nameEnc,
		PasswordHash:        string(passwordHash),
		Active:              true,
		ForcePasswordChange: true,
		Subjects:            req.Subjects,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	s.audit.Record(ctx, actor.Role, "ACCOUNT_CREATED", account.ID)

	view, err := s.buildView(account)
	if err != nil {
		return nil, err
	}
	return &CreatedAccount{Account: *view, TempPassword: tempPassword}, nil
}

// Get returns an account. Deans may read any account, everyone else only
// their own.
func (s *AccountService) Get(ctx context.Context, actor models.AuthContext, id string) (*models.AccountView, error) {
	if actor.Role != models.RoleDean && actor.AccountID != id {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "")
	}
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildView(account)
}

// List returns accounts matching the filter with pagination metadata.
func (s *AccountService) List(ctx context.Context, actor models.AuthContext, filter models.AccountFilter) ([]models.AccountView, *models.Pagination, error) {
	if actor.Role != models.RoleDean {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may list accounts")
	}
	accounts, total, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list accounts")
	}

	views := make([]models.AccountView, 0, len(accounts))
	for i := range accounts {
		view, err := s.buildView(&accounts[i])
		if err != nil {
			return nil, nil, err
		}
		views = append(views, *view)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return views, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update applies the mutable fields of an account.
func (s *AccountService) Update(ctx context.Context, actor models.AuthContext, id string, req UpdateAccountRequest) (*models.AccountView, error) {
	if actor.Role != models.RoleDean {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only deans may manage accounts")
	}
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FullName != nil {
		nameEnc, err := s.vault.Encrypt(*req.FullName)
		if err != nil {
			return nil, err
		}
		account.FullNameEnc = nameEnc
	}
	if req.Active != nil {
		account.Active = *req.Active
	}
	if req.Subjects != nil {
		account.Subjects = *req.Subjects
	}

	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account")
	}
	s.audit.Record(ctx, actor.Role, "ACCOUNT_UPDATED", account.ID)
	return s.buildView(account)
}

// Delete deactivates an account. With purge set the row is removed
// entirely, which is only allowed for accounts already inactive.
func (s *AccountService) Delete(ctx context.Context, actor models.AuthContext, id string, purge bool) error {
	if actor.Role != models.RoleDean {
		return appErrors.Clone(appErrors.ErrForbidden, "only deans may manage accounts")
	}
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return err
	}

	if purge {
		if account.Active {
			return appErrors.Clone(appErrors.ErrConflict, "account must be deactivated before it can be purged")
		}
		if err := s.accounts.HardDelete(ctx, id); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge account")
		}
		s.audit.Record(ctx, actor.Role, "ACCOUNT_PURGED", id)
		return nil
	}

	if err := s.accounts.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate account")
	}
	s.audit.Record(ctx, actor.Role, "ACCOUNT_DEACTIVATED", id)
	return nil
}

func (s *AccountService) loadAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return account, nil
}

func (s *AccountService) buildView(account *models.Account) (*models.AccountView, error) {
	email, err := s.vault.Decrypt(account.EmailEnc)
	if err != nil {
		return nil, err
	}
	fullName, err := s.vault.Decrypt(account.FullNameEnc)
	if err != nil {
		return nil, err
	}
	return &models.AccountView{
		ID:                  account.ID,
		Role:                account.Role,
		Email:               email,
		FullName:            fullName,
		Active:              account.Active,
		ForcePasswordChange: account.ForcePasswordChange,
		Subjects:            account.Subjects,
		CreatedAt:           account.CreatedAt,
	}, nil
}

func generateTempPassword() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
