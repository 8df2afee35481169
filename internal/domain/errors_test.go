package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

func TestBatchLockedError_Message(t *testing.T) {
	err := &domain.BatchLockedError{Reference: "ACME-X4F2", Operation: "remove student"}

	if !strings.Contains(err.Error(), "ACME-X4F2") {
		t.Errorf("message %q should contain the batch reference", err.Error())
	}
	if !strings.Contains(err.Error(), "remove student") {
		t.Errorf("message %q should name the rejected operation", err.Error())
	}
}

func TestPersistenceError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &domain.PersistenceError{Reference: "ACME-X4F2", Operation: "create", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("PersistenceError should unwrap to its cause")
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &domain.ValidationError{Errors: []domain.RowError{
		{Row: 2, Field: "grade", Message: "required"},
		{Row: 5, Field: "student_name", Message: "required"},
	}}

	if !strings.Contains(err.Error(), "2 row") {
		t.Errorf("message %q should carry the error count", err.Error())
	}
}
