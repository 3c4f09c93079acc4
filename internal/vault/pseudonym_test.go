package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPseudonymStable(t *testing.T) {
	first := Pseudonym("acc-1", "Instructor")
	second := Pseudonym("acc-1", "Instructor")
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "Instructor-"))
	assert.Len(t, strings.TrimPrefix(first, "Instructor-"), 6)
}

func TestPseudonymDistinctPerID(t *testing.T) {
	assert.NotEqual(t, Pseudonym("acc-1", "Student"), Pseudonym("acc-2", "Student"))
}

func TestPseudonymIgnoresDisplayData(t *testing.T) {
	// Bound to the id only: the same account keeps its pseudonym across role
	// label spellings of other fields, and different roles just change prefix.
	assert.Equal(t,
		strings.TrimPrefix(Pseudonym("acc-1", "Student"), "Student-"),
		strings.TrimPrefix(Pseudonym("acc-1", "Instructor"), "Instructor-"),
	)
}
