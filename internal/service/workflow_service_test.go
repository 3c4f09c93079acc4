package service

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	"github.com/LilT0ny/BlindCheckSystem/internal/vault"
	"github.com/LilT0ny/BlindCheckSystem/pkg/config"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

type mockLedger struct {
	requests map[string]*models.RegradeRequest
	seq      int
}

func (m *mockLedger) Create(ctx context.Context, request *models.RegradeRequest) error {
	if m.requests == nil {
		m.requests = make(map[string]*models.RegradeRequest)
	}
	m.seq++
	request.ID = fmt.Sprintf("req-%d", m.seq)
	request.CreatedAt = time.Now().UTC()
	request.UpdatedAt = request.CreatedAt
	stored := *request
	m.requests[request.ID] = &stored
	return nil
}

func (m *mockLedger) FindByID(ctx context.Context, id string) (*models.RegradeRequest, error) {
	stored, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (m *mockLedger) List(ctx context.Context, filter models.RequestFilter) ([]models.RegradeRequest, error) {
	var result []models.RegradeRequest
	for _, stored := range m.requests {
		if filter.StudentID != "" && stored.StudentID != filter.StudentID {
			continue
		}
		if filter.ReviewerID != "" && (stored.ReviewerID == nil || *stored.ReviewerID != filter.ReviewerID) {
			continue
		}
		if filter.Status != nil && stored.Status != *filter.Status {
			continue
		}
		result = append(result, *stored)
	}
	return result, nil
}

func (m *mockLedger) Transition(ctx context.Context, id string, expected models.RequestStatus, update models.TransitionUpdate, records ...models.TransitionRecord) error {
	stored, ok := m.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Status != expected {
		return appErrors.Clone(appErrors.ErrConflict, "request status changed since it was read")
	}
	stored.Status = update.Status
	if update.ReviewerID != nil {
		stored.ReviewerID = update.ReviewerID
	}
	if update.NewGrade != nil {
		stored.NewGrade = update.NewGrade
	}
	if update.ReviewerCommentEnc != nil {
		stored.ReviewerCommentEnc = update.ReviewerCommentEnc
	}
	if update.RejectionReason != nil {
		stored.RejectionReason = update.RejectionReason
	}
	stored.History = append(stored.History, records...)
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

type mockAccounts struct {
	accounts map[string]*models.Account
}

func (m *mockAccounts) FindByID(ctx context.Context, id string) (*models.Account, error) {
	if account, ok := m.accounts[id]; ok {
		return account, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccounts) ListActiveInstructors(ctx context.Context) ([]models.Account, error) {
	var instructors []models.Account
	for _, account := range m.accounts {
		if account.Role == models.RoleInstructor && account.Active {
			instructors = append(instructors, *account)
		}
	}
	return instructors, nil
}

type mockSubjects struct {
	subjects map[string]*models.Subject
}

func (m *mockSubjects) FindByCode(ctx context.Context, code string) (*models.Subject, error) {
	if subject, ok := m.subjects[code]; ok {
		return subject, nil
	}
	return nil, sql.ErrNoRows
}

type mockNotifier struct {
	sent []string
}

func (m *mockNotifier) Send(ctx context.Context, recipientID, subject, body string) {
	m.sent = append(m.sent, recipientID+":"+subject)
}

type mockAudit struct {
	actions []string
}

func (m *mockAudit) Record(ctx context.Context, actorRole models.Role, action, resourceID string) {
	m.actions = append(m.actions, string(actorRole)+":"+action)
}

type workflowFixture struct {
	svc      *WorkflowService
	ledger   *mockLedger
	accounts *mockAccounts
	notifier *mockNotifier
	audit    *mockAudit
	vault    *vault.Vault

	student    models.AuthContext
	dean       models.AuthContext
	grader     models.AuthContext
	reviewer   models.AuthContext
	reviewerID string
}

func newWorkflowFixture(t *testing.T, cfg config.WorkflowConfig, seed int64) *workflowFixture {
	t.Helper()

	v, err := vault.New("test-secret")
	require.NoError(t, err)

	encName := func(name string) string {
		enc, err := v.Encrypt(name)
		require.NoError(t, err)
		return enc
	}

	accounts := &mockAccounts{accounts: map[string]*models.Account{
		"student-1": {ID: "student-1", Role: models.RoleStudent, FullNameEnc: encName("Sam Student"), Active: true},
		"grader-1":  {ID: "grader-1", Role: models.RoleInstructor, FullNameEnc: encName("Gina Grader"), Active: true, Subjects: []string{"CS-301"}},
		"rev-1":     {ID: "rev-1", Role: models.RoleInstructor, FullNameEnc: encName("Rita Reviewer"), Active: true, Subjects: []string{"CS-301"}},
		"dean-1":    {ID: "dean-1", Role: models.RoleDean, FullNameEnc: encName("Dee Dean"), Active: true},
	}}
	subjects := &mockSubjects{subjects: map[string]*models.Subject{
		"CS-301": {Code: "CS-301", Name: "Algorithms", Groups: []models.SubjectGroup{
			{SubjectCode: "CS-301", GroupName: "A", InstructorID: "grader-1"},
		}},
	}}

	ledger := &mockLedger{}
	notifier := &mockNotifier{}
	audit := &mockAudit{}
	selector := NewAssignmentSelector(rand.New(rand.NewSource(seed)), cfg.RosterConstraint)

	svc := NewWorkflowService(ledger, accounts, subjects, selector, v, notifier, audit, nil, cfg, validator.New(), zap.NewNop())

	return &workflowFixture{
		svc:        svc,
		ledger:     ledger,
		accounts:   accounts,
		notifier:   notifier,
		audit:      audit,
		vault:      v,
		student:    models.AuthContext{AccountID: "student-1", Role: models.RoleStudent},
		dean:       models.AuthContext{AccountID: "dean-1", Role: models.RoleDean},
		grader:     models.AuthContext{AccountID: "grader-1", Role: models.RoleInstructor},
		reviewer:   models.AuthContext{AccountID: "rev-1", Role: models.RoleInstructor},
		reviewerID: "rev-1",
	}
}

func defaultWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{AutoAssign: true, GradeMin: 0, GradeMax: 10}
}

func (f *workflowFixture) submit(t *testing.T) *models.RequestView {
	t.Helper()
	view, err := f.svc.Submit(context.Background(), f.student, SubmitRequestRequest{
		SubjectCode:   "CS-301",
		GroupName:     "A",
		Component:     "Final Exam",
		OriginalGrade: 5.5,
		Reason:        "The second problem was graded as wrong but matches the model answer.",
	})
	require.NoError(t, err)
	return view
}

func TestWorkflowFullLifecycle(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)

	view := f.submit(t)
	assert.Equal(t, models.StatusPending, view.Status)
	require.Len(t, view.History, 1)
	assert.Equal(t, models.ActionCreated, view.History[0].Action)
	assert.Equal(t, models.RoleStudent, view.History[0].ActorRole)

	decided, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, decided.Status)
	require.Len(t, decided.History, 3)
	assert.Equal(t, models.ActionApproved, decided.History[1].Action)
	assert.Equal(t, models.ActionAssigned, decided.History[2].Action)

	// The grader is the only other instructor, so the selector must have
	// picked rev-1.
	stored := f.ledger.requests[view.ID]
	require.NotNil(t, stored.ReviewerID)
	assert.Equal(t, "rev-1", *stored.ReviewerID)

	graded, err := f.svc.Grade(context.Background(), f.reviewer, view.ID, GradeRequestRequest{NewGrade: 7.5, Comment: "Regraded, the answer is correct."})
	require.NoError(t, err)
	assert.Equal(t, models.StatusGraded, graded.Status)
	require.NotNil(t, graded.NewGrade)
	assert.Equal(t, 7.5, *graded.NewGrade)
	require.Len(t, graded.History, 4)
	assert.Equal(t, models.ActionGraded, graded.History[3].Action)

	// Comment round-trips through the vault.
	studentView, err := f.svc.GetForViewer(context.Background(), f.student, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Regraded, the answer is correct.", studentView.ReviewerComment)

	assert.Contains(t, f.audit.actions, "STUDENT:CREATED")
	assert.Contains(t, f.audit.actions, "DEAN:APPROVED")
	assert.Contains(t, f.audit.actions, "INSTRUCTOR:GRADED")
	assert.Contains(t, f.notifier.sent, "student-1:Request graded")
}

func TestWorkflowHistoryNeverRecordsIdentity(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)

	view := f.submit(t)
	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.NoError(t, err)
	_, err = f.svc.Grade(context.Background(), f.reviewer, view.ID, GradeRequestRequest{NewGrade: 8, Comment: "ok"})
	require.NoError(t, err)

	stored := f.ledger.requests[view.ID]
	for _, record := range stored.History {
		assert.Contains(t, []models.Role{models.RoleStudent, models.RoleInstructor, models.RoleDean}, record.ActorRole)
		assert.NotEmpty(t, record.Action)
	}
}

func TestWorkflowRejectRequiresReason(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)

	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "REJECT"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	rejected, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "REJECT", RejectionReason: "no supporting evidence"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "no supporting evidence", *rejected.RejectionReason)
}

func TestWorkflowRejectedIsTerminal(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)

	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "REJECT", RejectionReason: "out of scope"})
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

	_, err = f.svc.Assign(context.Background(), f.dean, view.ID, AssignReviewerRequest{ReviewerID: "rev-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestWorkflowManualAssignment(t *testing.T) {
	cfg := defaultWorkflowConfig()
	cfg.AutoAssign = false
	f := newWorkflowFixture(t, cfg, 1)
	view := f.submit(t)

	approved, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingAssignment, approved.Status)

	// The original grader can never be assigned, not even by hand.
	_, err = f.svc.Assign(context.Background(), f.dean, view.ID, AssignReviewerRequest{ReviewerID: "grader-1"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidAssignment))

	assigned, err := f.svc.Assign(context.Background(), f.dean, view.ID, AssignReviewerRequest{ReviewerID: "rev-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInReview, assigned.Status)
}

func TestWorkflowNoEligibleReviewer(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	// Only the original grader remains in the pool.
	f.accounts.accounts["rev-1"].Active = false
	view := f.submit(t)

	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoEligibleAssignee))

	// The request must stay pending when no reviewer could be found.
	assert.Equal(t, models.StatusPending, f.ledger.requests[view.ID].Status)
}

func TestWorkflowConcurrentDecisionConflict(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)

	// Simulate a racing dean moving the request between this dean's read
	// and write.
	f.ledger.requests[view.ID].Status = models.StatusRejected

	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestWorkflowGradeOnlyByAssignedReviewer(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)
	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.NoError(t, err)

	_, err = f.svc.Grade(context.Background(), f.grader, view.ID, GradeRequestRequest{NewGrade: 9, Comment: "mine"})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Grade(context.Background(), f.reviewer, view.ID, GradeRequestRequest{NewGrade: 11, Comment: "too high"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestWorkflowViewsArePseudonymized(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)
	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.NoError(t, err)

	// The reviewer sees the student only as a stable pseudonym.
	reviewerView, err := f.svc.GetForViewer(context.Background(), f.reviewer, view.ID)
	require.NoError(t, err)
	assert.Equal(t, vault.Pseudonym("student-1", "Student"), reviewerView.Student)
	assert.Equal(t, "Rita Reviewer", reviewerView.Reviewer)

	// The student sees the reviewer only as a pseudonym.
	studentView, err := f.svc.GetForViewer(context.Background(), f.student, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sam Student", studentView.Student)
	assert.Equal(t, vault.Pseudonym("rev-1", "Instructor"), studentView.Reviewer)

	// The dean sees both real names.
	deanView, err := f.svc.GetForViewer(context.Background(), f.dean, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sam Student", deanView.Student)
	assert.Equal(t, "Rita Reviewer", deanView.Reviewer)
}

func TestWorkflowViewAccessControl(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)

	// Unassigned instructors are not parties to the request.
	_, err := f.svc.GetForViewer(context.Background(), f.reviewer, view.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	otherStudent := models.AuthContext{AccountID: "student-2", Role: models.RoleStudent}
	_, err = f.svc.GetForViewer(context.Background(), otherStudent, view.ID)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestWorkflowListScopedByRole(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)
	_, err := f.svc.Decide(context.Background(), f.dean, view.ID, DecideRequestRequest{Decision: "APPROVE"})
	require.NoError(t, err)

	studentList, err := f.svc.ListForViewer(context.Background(), f.student, models.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, studentList, 1)

	reviewerList, err := f.svc.ListForViewer(context.Background(), f.reviewer, models.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, reviewerList, 1)

	graderList, err := f.svc.ListForViewer(context.Background(), f.grader, models.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, graderList)

	deanList, err := f.svc.ListForViewer(context.Background(), f.dean, models.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, deanList, 1)
}

func TestWorkflowSubmitValidation(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)

	_, err := f.svc.Submit(context.Background(), f.dean, SubmitRequestRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = f.svc.Submit(context.Background(), f.student, SubmitRequestRequest{
		SubjectCode: "CS-999", GroupName: "A", Component: "Exam", OriginalGrade: 5, Reason: "r",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Submit(context.Background(), f.student, SubmitRequestRequest{
		SubjectCode: "CS-301", GroupName: "Z", Component: "Exam", OriginalGrade: 5, Reason: "r",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Submit(context.Background(), f.student, SubmitRequestRequest{
		SubjectCode: "CS-301", GroupName: "A", Component: "Exam", OriginalGrade: 42, Reason: "r",
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestWorkflowTamperedCiphertextSurfaces(t *testing.T) {
	f := newWorkflowFixture(t, defaultWorkflowConfig(), 1)
	view := f.submit(t)

	f.ledger.requests[view.ID].ReasonEnc = "not-a-valid-token"

	_, err := f.svc.GetForViewer(context.Background(), f.student, view.ID)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDecryption))
}
