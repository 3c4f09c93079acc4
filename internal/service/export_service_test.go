package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
	"github.com/LilT0ny/BlindCheckSystem/pkg/export"
)

func newExportFixture(enabled bool) (*ExportService, *mockLedger) {
	ledger := &mockLedger{}
	svc := NewExportService(ledger, export.NewCSVExporter(), export.NewPDFExporter(), enabled, zap.NewNop())
	return svc, ledger
}

func seedExportRequest(t *testing.T, ledger *mockLedger) {
	t.Helper()
	grade := 7.5
	reviewer := "rev-1"
	request := &models.RegradeRequest{
		StudentID:     "student-1",
		SubjectCode:   "CS-301",
		GroupName:     "A",
		Component:     "Final Exam",
		OriginalGrade: 5.5,
		Status:        models.StatusGraded,
		ReviewerID:    &reviewer,
		NewGrade:      &grade,
	}
	require.NoError(t, ledger.Create(context.Background(), request))
}

func TestExportCSVUsesPseudonyms(t *testing.T) {
	svc, ledger := newExportFixture(true)
	seedExportRequest(t, ledger)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}

	file, err := svc.Requests(context.Background(), dean, "csv", nil)
	require.NoError(t, err)
	assert.Equal(t, "regrade_requests.csv", file.FileName)
	assert.Equal(t, "text/csv", file.ContentType)

	content := string(file.Content)
	assert.Contains(t, content, vault.Pseudonym("student-1", "Student"))
	assert.Contains(t, content, vault.Pseudonym("rev-1", "Instructor"))
	assert.NotContains(t, content, "student-1")
	assert.NotContains(t, content, "rev-1")
}

func TestExportPDF(t *testing.T) {
	svc, ledger := newExportFixture(true)
	seedExportRequest(t, ledger)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}

	file, err := svc.Requests(context.Background(), dean, "pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasPrefix(string(file.Content), "%PDF"))
}

func TestExportGuards(t *testing.T) {
	svc, _ := newExportFixture(true)
	dean := models.AuthContext{AccountID: "dean-1", Role: models.RoleDean}
	student := models.AuthContext{AccountID: "student-1", Role: models.RoleStudent}

	_, err := svc.Requests(context.Background(), student, "csv", nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Requests(context.Background(), dean, "xlsx", nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	disabled, _ := newExportFixture(false)
	_, err = disabled.Requests(context.Background(), dean, "csv", nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
