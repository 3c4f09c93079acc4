package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

type mockAccountStore struct {
	accounts map[string]*models.Account
	seq      int
}

func (m *mockAccountStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	if account, ok := m.accounts[id]; ok {
		copied := *account
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountStore) FindByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	for _, account := range m.accounts {
		if account.EmailHash == emailHash {
			copied := *account
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountStore) List(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error) {
	var result []models.Account
	for _, account := range m.accounts {
		if filter.Role != nil && account.Role != *filter.Role {
			continue
		}
		if filter.Active != nil && account.Active != *filter.Active {
			continue
		}
		result = append(result, *account)
	}
	return result, len(result), nil
}

func (m *mockAccountStore) Create(ctx context.Context, account *models.Account) error {
	if m.accounts == nil {
		m.accounts = make(map[string]*models.Account)
	}
	m.seq++
	account.ID = fmt.Sprintf("acc-%d", m.seq)
	stored := *account
	m.accounts[account.ID] = &stored
	return nil
}

func (m *mockAccountStore) Update(ctx context.Context, account *models.Account) error {
	stored := *account
	m.accounts[account.ID] = &stored
	return nil
}

func (m *mockAccountStore) UpdatePassword(ctx context.Context, id, passwordHash string, forceChange bool, updatedAt time.Time) error {
	account, ok := m.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	account.PasswordHash = passwordHash
	account.ForcePasswordChange = forceChange
	return nil
}

func (m *mockAccountStore) Deactivate(ctx context.Context, id string) error {
	account, ok := m.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	account.Active = false
	return nil
}

func (m *mockAccountStore) HardDelete(ctx context.Context, id string) error {
	delete(m.accounts, id)
	return nil
}

func newAccountService(t *testing.T) (*AccountService, *mockAccountStore, *vault.Vault) {
	t.Helper()
	v, err := vault.New("test-secret")
	require.NoError(t, err)
	store := &mockAccountStore{accounts: make(map[string]*models.Account)}
	svc := NewAccountService(store, v, &mockAudit{}, validator.New(), zap.NewNop())
	return svc, store, v
}

func TestAccountCreateIssuesTempPassword(t *testing.T) {
	svc, store, _ := newAccountService(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}

	created, err := svc.Create(context.Background(), dean, CreateAccountRequest{
		Role:     models.RoleInstructor,
		Email:    "rita@example.edu",
		FullName: "Rita Reviewer",
		Subjects: []string{"CS-301"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.TempPassword)
	assert.True(t, created.Account.ForcePasswordChange)
	assert.Equal(t, "rita@example.edu", created.Account.Email)
	assert.Equal(t, "Rita Reviewer", created.Account.FullName)

	stored := store.accounts[created.Account.ID]
	// PII never lands in the store as plaintext.
	assert.NotContains(t, stored.EmailEnc, "rita@example.edu")
	assert.NotContains(t, stored.FullNameEnc, "Rita")
	assert.Equal(t, vault.LookupHash("rita@example.edu"), stored.EmailHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(created.TempPassword)))
}

func TestAccountCreateDuplicateEmail(t *testing.T) {
	svc, _, _ := newAccountService(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}

	req := CreateAccountRequest{Role: models.RoleStudent, Email: "sam@example.edu", FullName: "Sam Student"}
	_, err := svc.Create(context.Background(), dean, req)
	require.NoError(t, err)

	// Same address in different casing must still collide.
	req.Email = "SAM@example.edu"
	_, err = svc.Create(context.Background(), dean, req)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateEmail))
}

func TestAccountCreateRequiresDean(t *testing.T) {
	svc, _, _ := newAccountService(t)
	student := models.AuthContext{AccountID: "student-1", Role: models.RoleStudent}

	_, err := svc.Create(context.Background(), student, CreateAccountRequest{Role: models.RoleStudent, Email: "x@example.edu", FullName: "X"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAccountGetSelfAllowed(t *testing.T) {
	svc, _, _ := newAccountService(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}
	created, err := svc.Create(context.Background(), dean, CreateAccountRequest{Role: models.RoleStudent, Email: "sam@example.edu", FullName: "Sam Student"})
	require.NoError(t, err)

	self := models.AuthContext{AccountID: created.Account.ID, Role: models.RoleStudent}
	view, err := svc.Get(context.Background(), self, created.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sam Student", view.FullName)

	other := models.AuthContext{AccountID: "someone-else", Role: models.RoleStudent}
	_, err = svc.Get(context.Background(), other, created.Account.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAccountDeleteAndPurge(t *testing.T) {
	svc, store, _ := newAccountService(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}
	created, err := svc.Create(context.Background(), dean, CreateAccountRequest{Role: models.RoleStudent, Email: "sam@example.edu", FullName: "Sam Student"})
	require.NoError(t, err)
	id := created.Account.ID

	// Purging an active account is refused.
	err = svc.Delete(context.Background(), dean, id, true)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))

	require.NoError(t, svc.Delete(context.Background(), dean, id, false))
	assert.False(t, store.accounts[id].Active)

	require.NoError(t, svc.Delete(context.Background(), dean, id, true))
	assert.NotContains(t, store.accounts, id)
}

func TestAccountUpdateFields(t *testing.T) {
	svc, _, _ := newAccountService(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}
	created, err := svc.Create(context.Background(), dean, CreateAccountRequest{Role: models.RoleInstructor, Email: "rita@example.edu", FullName: "Rita Reviewer"})
	require.NoError(t, err)

	newName := "Rita R. Reviewer"
	subjects := []string{"CS-301", "MA-101"}
	updated, err := svc.Update(context.Background(), dean, created.Account.ID, UpdateAccountRequest{FullName: &newName, Subjects: &subjects})
	require.NoError(t, err)
	assert.Equal(t, newName, updated.FullName)
	assert.Equal(t, subjects, updated.Subjects)
}
