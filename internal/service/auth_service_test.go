package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	"github.com/LilT0ny/BlindCheckSystem/pkg/config"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

func newAuthFixture(t *testing.T) (*AuthService, *mockAccountStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)

	accounts := &mockAccountStore{accounts: map[string]*models.Account{
		"student-1": {
			ID:                  "student-1",
			Role:                models.RoleStudent,
			EmailHash:           vault.LookupHash("sam@example.edu"),
			PasswordHash:        string(hash),
			Active:              true,
			ForcePasswordChange: true,
		},
	}}
	cfg := config.JWTConfig{Secret: "test-jwt-secret", Expiration: time.Hour, Issuer: "blindcheck"}
	return NewAuthService(accounts, validator.New(), zap.NewNop(), cfg), accounts
}

func TestAuthLogin(t *testing.T) {
	svc, _ := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "sam@example.edu", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "student-1", resp.AccountID)
	assert.Equal(t, models.RoleStudent, resp.Role)
	assert.True(t, resp.ForcePasswordChange)
	assert.NotEmpty(t, resp.AccessToken)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "student-1", claims.AccountID)
	assert.Equal(t, models.RoleStudent, claims.Role)

	// Lookup goes through the canonicalized hash, so casing is irrelevant.
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "SAM@Example.edu", Password: "correct horse"})
	assert.NoError(t, err)
}

func TestAuthLoginFailures(t *testing.T) {
	svc, accounts := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "sam@example.edu", Password: "wrong"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.edu", Password: "correct horse"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	accounts.accounts["student-1"].Active = false
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "sam@example.edu", Password: "correct horse"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestAuthChangePasswordClearsForceFlag(t *testing.T) {
	svc, accounts := newAuthFixture(t)

	err := svc.ChangePassword(context.Background(), "student-1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "fresh password"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	err = svc.ChangePassword(context.Background(), "student-1", models.ChangePasswordRequest{OldPassword: "correct horse", NewPassword: "fresh password"})
	require.NoError(t, err)

	account := accounts.accounts["student-1"]
	assert.False(t, account.ForcePasswordChange)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte("fresh password")))
}

func TestAuthValidateTokenRejectsForgery(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not-a-token")
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	otherCfg := config.JWTConfig{Secret: "a-different-secret", Expiration: time.Hour, Issuer: "blindcheck"}
	other := NewAuthService(&mockAccountStore{}, validator.New(), zap.NewNop(), otherCfg)
	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "sam@example.edu", Password: "correct horse"})
	require.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
