package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
)

func accountRows(id string, role models.Role) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "role", "email_enc", "email_hash", "full_name_enc", "password_hash", "active", "force_password_change", "subjects", "created_at", "updated_at"}).
		AddRow(id, string(role), "email-enc", "hash", "name-enc", "pw-hash", true, false, "{}", now, now)
}

func TestAccountFindByEmailHash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE email_hash = ").
		WithArgs("hash").
		WillReturnRows(accountRows("acc-1", models.RoleStudent))

	account, err := repo.FindByEmailHash(context.Background(), "hash")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", account.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(1, 1))

	account := &models.Account{Role: models.RoleInstructor, EmailEnc: "e", EmailHash: "h", FullNameEnc: "n", PasswordHash: "p", Active: true}
	require.NoError(t, repo.Create(context.Background(), account))
	assert.NotEmpty(t, account.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountListActiveInstructors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE role = (.+) AND active = TRUE").
		WithArgs(string(models.RoleInstructor)).
		WillReturnRows(accountRows("inst-1", models.RoleInstructor))

	instructors, err := repo.ListActiveInstructors(context.Background())
	require.NoError(t, err)
	assert.Len(t, instructors, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountUpdatePassword(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("UPDATE accounts SET password_hash = ").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdatePassword(context.Background(), "acc-1", "new-hash", true, time.Now().UTC())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
