package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RequestStatus enumerates the regrade workflow states.
type RequestStatus string

const (
	StatusPending           RequestStatus = "PENDING"
	StatusPendingAssignment RequestStatus = "APPROVED_PENDING_ASSIGNMENT"
	StatusInReview          RequestStatus = "IN_REVIEW"
	StatusGraded            RequestStatus = "GRADED"
	StatusRejected          RequestStatus = "REJECTED"
)

// transitions is the only edge set the workflow permits.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:           {StatusPendingAssignment, StatusInReview, StatusRejected},
	StatusPendingAssignment: {StatusInReview},
	StatusInReview:          {StatusGraded},
}

// CanTransitionTo reports whether the workflow graph allows moving to next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition exists from s.
func (s RequestStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Workflow history actions.
const (
	ActionCreated  = "CREATED"
	ActionApproved = "APPROVED"
	ActionRejected = "REJECTED"
	ActionAssigned = "ASSIGNED"
	ActionGraded   = "GRADED"
)

// TransitionRecord is an immutable history entry. It records the acting role
// only, never the actor identity, so audit views stay anonymous.
type TransitionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	ActorRole Role      `json:"actor_role"`
}

// TransitionHistory is the append-only list of transition records, stored as
// a JSONB column.
type TransitionHistory []TransitionRecord

// Value implements driver.Valuer for JSONB persistence.
func (h TransitionHistory) Value() (driver.Value, error) {
	if h == nil {
		h = TransitionHistory{}
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (h *TransitionHistory) Scan(src interface{}) error {
	if src == nil {
		*h = TransitionHistory{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported history column type %T", src)
	}
	return json.Unmarshal(raw, h)
}

// RegradeRequest is the appeal record owned by the ledger. Reason and
// reviewer comment are vault ciphertext at rest.
type RegradeRequest struct {
	ID                   string            `db:"id" json:"id"`
	StudentID            string            `db:"student_id" json:"-"`
	SubjectCode          string            `db:"subject_code" json:"subject_code"`
	GroupName            string            `db:"group_name" json:"group_name"`
	Component            string            `db:"component" json:"component"`
	OriginalGrade        float64           `db:"original_grade" json:"original_grade"`
	OriginalInstructorID string            `db:"original_instructor_id" json:"-"`
	ReasonEnc            string            `db:"reason_enc" json:"-"`
	EvidenceURL          *string           `db:"evidence_url" json:"evidence_url,omitempty"`
	Status               RequestStatus     `db:"status" json:"status"`
	ReviewerID           *string           `db:"reviewer_id" json:"-"`
	NewGrade             *float64          `db:"new_grade" json:"new_grade,omitempty"`
	ReviewerCommentEnc   *string           `db:"reviewer_comment_enc" json:"-"`
	RejectionReason      *string           `db:"rejection_reason" json:"rejection_reason,omitempty"`
	History              TransitionHistory `db:"history" json:"history"`
	CreatedAt            time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// TransitionUpdate carries the side fields written together with a status
// change. Nil fields keep their stored value.
type TransitionUpdate struct {
	Status             RequestStatus
	ReviewerID         *string
	NewGrade           *float64
	ReviewerCommentEnc *string
	RejectionReason    *string
}

// RequestFilter captures listing criteria for the ledger.
type RequestFilter struct {
	StudentID   string
	ReviewerID  string
	SubjectCode string
	Status      *RequestStatus
}

// RequestView is a request prepared for a specific viewer: ciphertext
// resolved to plaintext, parties reduced to what the viewer may see.
type RequestView struct {
	ID              string            `json:"id"`
	Student         string            `json:"student"`
	SubjectCode     string            `json:"subject_code"`
	GroupName       string            `json:"group_name"`
	Component       string            `json:"component"`
	OriginalGrade   float64           `json:"original_grade"`
	Reason          string            `json:"reason"`
	EvidenceURL     *string           `json:"evidence_url,omitempty"`
	Status          RequestStatus     `json:"status"`
	Reviewer        string            `json:"reviewer,omitempty"`
	NewGrade        *float64          `json:"new_grade,omitempty"`
	ReviewerComment string            `json:"reviewer_comment,omitempty"`
	RejectionReason *string           `json:"rejection_reason,omitempty"`
	History         TransitionHistory `json:"history"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
