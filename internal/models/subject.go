package models

import "time"

// Subject represents a course identified by its unique code.
type Subject struct {
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Groups []SubjectGroup `db:"-" json:"groups"`
}

// SubjectGroup binds a group name within a subject to its instructor.
type SubjectGroup struct {
	SubjectCode  string `db:"subject_code" json:"subject_code"`
	GroupName    string `db:"group_name" json:"group_name"`
	InstructorID string `db:"instructor_id" json:"instructor_id"`
}
