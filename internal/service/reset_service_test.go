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

type mockResetStore struct {
	resets map[string]*models.PasswordReset
	seq    int
}

func (m *mockResetStore) Create(ctx context.Context, reset *models.PasswordReset) error {
	if m.resets == nil {
		m.resets = make(map[string]*models.PasswordReset)
	}
	m.seq++
	reset.ID = fmt.Sprintf("reset-%d", m.seq)
	reset.CreatedAt = time.Now().UTC()
	stored := *reset
	m.resets[reset.ID] = &stored
	return nil
}

func (m *mockResetStore) FindByID(ctx context.Context, id string) (*models.PasswordReset, error) {
	if reset, ok := m.resets[id]; ok {
		copied := *reset
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockResetStore) List(ctx context.Context, status *models.ResetStatus) ([]models.PasswordReset, error) {
	var result []models.PasswordReset
	for _, reset := range m.resets {
		if status != nil && reset.Status != *status {
			continue
		}
		result = append(result, *reset)
	}
	return result, nil
}

func (m *mockResetStore) Complete(ctx context.Context, id, tempPassword string, completedAt time.Time) error {
	reset, ok := m.resets[id]
	if !ok || reset.Status != models.ResetPending {
		return sql.ErrNoRows
	}
	reset.Status = models.ResetCompleted
	reset.TempPassword = &tempPassword
	reset.CompletedAt = &completedAt
	return nil
}

func newResetFixture(t *testing.T) (*ResetService, *mockResetStore, *mockAccountStore) {
	t.Helper()
	v, err := vault.New("test-secret")
	require.NoError(t, err)

	emailEnc, err := v.Encrypt("sam@example.edu")
	require.NoError(t, err)
	accounts := &mockAccountStore{accounts: map[string]*models.Account{
		"student-1": {
			ID:        "student-1",
			Role:      models.RoleStudent,
			EmailEnc:  emailEnc,
			EmailHash: vault.LookupHash("sam@example.edu"),
			Active:    true,
		},
	}}
	resets := &mockResetStore{}
	svc := NewResetService(resets, accounts, v, &mockAudit{}, validator.New(), zap.NewNop())
	return svc, resets, accounts
}

func TestResetRequestNeverLeaksAccountExistence(t *testing.T) {
	svc, store, _ := newResetFixture(t)

	require.NoError(t, svc.Request(context.Background(), RequestResetRequest{Email: "sam@example.edu"}))
	require.NoError(t, svc.Request(context.Background(), RequestResetRequest{Email: "nobody@example.edu"}))

	// Both petitions succeed identically; only the stored tickets differ.
	require.Len(t, store.resets, 2)
	var matched, unmatched int
	for _, reset := range store.resets {
		if reset.AccountID != nil {
			matched++
		} else {
			unmatched++
		}
	}
	assert.Equal(t, 1, matched)
	assert.Equal(t, 1, unmatched)
}

func TestResetCompleteIssuesTempPassword(t *testing.T) {
	svc, store, accounts := newResetFixture(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}

	require.NoError(t, svc.Request(context.Background(), RequestResetRequest{Email: "sam@example.edu"}))
	var ticketID string
	for id := range store.resets {
		ticketID = id
	}

	view, err := svc.Complete(context.Background(), dean, ticketID)
	require.NoError(t, err)
	assert.Equal(t, models.ResetCompleted, view.Status)
	require.NotNil(t, view.TempPassword)
	assert.Equal(t, "sam@example.edu", view.Email)

	account := accounts.accounts["student-1"]
	assert.True(t, account.ForcePasswordChange)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(*view.TempPassword)))

	// A ticket resolves at most once.
	_, err = svc.Complete(context.Background(), dean, ticketID)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestResetCompleteUnmatchedTicket(t *testing.T) {
	svc, store, _ := newResetFixture(t)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}

	require.NoError(t, svc.Request(context.Background(), RequestResetRequest{Email: "nobody@example.edu"}))
	var ticketID string
	for id := range store.resets {
		ticketID = id
	}

	_, err := svc.Complete(context.Background(), dean, ticketID)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestResetListDeanOnly(t *testing.T) {
	svc, _, _ := newResetFixture(t)
	require.NoError(t, svc.Request(context.Background(), RequestResetRequest{Email: "sam@example.edu"}))

	student := models.AuthContext{AccountID: "student-1", Role: models.RoleStudent}
	_, err := svc.List(context.Background(), student, nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}
	views, err := svc.List(context.Background(), dean, nil)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "sam@example.edu", views[0].Email)
}
