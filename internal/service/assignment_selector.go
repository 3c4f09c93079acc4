package service

import (
	"math/rand"
	"sync"

	"github.com/LilT0ny/BlindCheckSystem/internal/models"
	appErrors "github.com/LilT0ny/BlindCheckSystem/pkg/errors"
)

// AssignmentSelector picks a reviewer for an approved request uniformly at
// random from the eligible pool. The randomness source is injected so tests
// can seed it deterministically.
type AssignmentSelector struct {
	mu               sync.Mutex
	rng              *rand.Rand
	rosterConstraint bool
}

// NewAssignmentSelector constructs an AssignmentSelector. A nil rng falls
// back to a time-seeded source.
func NewAssignmentSelector(rng *rand.Rand, rosterConstraint bool) *AssignmentSelector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &AssignmentSelector{rng: rng, rosterConstraint: rosterConstraint}
}

// Eligible reports whether the candidate may review the request. A non-nil
// error names the first rule the candidate fails.
func (s *AssignmentSelector) Eligible(request *models.RegradeRequest, candidate *models.Account) error {
	if candidate.Role != models.RoleInstructor {
		return appErrors.Clone(appErrors.ErrInvalidAssignment, "reviewer must be an instructor")
	}
	if !candidate.Active {
		return appErrors.Clone(appErrors.ErrInvalidAssignment, "reviewer account is inactive")
	}
	if candidate.ID == request.OriginalInstructorID {
		return appErrors.Clone(appErrors.ErrInvalidAssignment, "reviewer issued the original grade")
	}
	if s.rosterConstraint && !teaches(candidate, request.SubjectCode) {
		return appErrors.Clone(appErrors.ErrInvalidAssignment, "reviewer does not teach this subject")
	}
	return nil
}

// SelectReviewer returns the id of a uniformly chosen eligible candidate.
// An empty pool yields a no-eligible-assignee error and no selection.
func (s *AssignmentSelector) SelectReviewer(request *models.RegradeRequest, candidates []models.Account) (string, error) {
	pool := make([]string, 0, len(candidates))
	for i := range candidates {
		if err := s.Eligible(request, &candidates[i]); err == nil {
			pool = append(pool, candidates[i].ID)
		}
	}
	if len(pool) == 0 {
		return "", appErrors.Clone(appErrors.ErrNoEligibleAssignee, "")
	}

	s.mu.Lock()
	pick := s.rng.Intn(len(pool))
	s.mu.Unlock()
	return pool[pick], nil
}

func teaches(account *models.Account, subjectCode string) bool {
	for _, code := range account.Subjects {
		if code == subjectCode {
			return true
		}
	}
	return false
}
