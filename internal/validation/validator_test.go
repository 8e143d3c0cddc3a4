package validation

import (
	"testing"

	"github.com/pingone-bulk-users/internal/models"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name       string
		kind       models.OperationKind
		rec        *models.UserRecord
		wantErrors int
		wantFields []string
	}{
		{
			name:       "valid import record",
			kind:       models.OperationImport,
			rec:        &models.UserRecord{Username: "alice", Email: "alice@example.com"},
			wantErrors: 0,
		},
		{
			name:       "import requires username",
			kind:       models.OperationImport,
			rec:        &models.UserRecord{Email: "alice@example.com"},
			wantErrors: 1,
			wantFields: []string{"username"},
		},
		{
			name:       "modify accepts email only",
			kind:       models.OperationModify,
			rec:        &models.UserRecord{Email: "alice@example.com"},
			wantErrors: 0,
		},
		{
			name:       "delete needs some identity",
			kind:       models.OperationDelete,
			rec:        &models.UserRecord{GivenName: "Alice"},
			wantErrors: 1,
			wantFields: []string{"username"},
		},
		{
			name:       "invalid email format",
			kind:       models.OperationImport,
			rec:        &models.UserRecord{Username: "bob", Email: "not-an-email"},
			wantErrors: 1,
			wantFields: []string{"email"},
		},
		{
			name:       "invalid user id",
			kind:       models.OperationDelete,
			rec:        &models.UserRecord{UserID: "123"},
			wantErrors: 1,
			wantFields: []string{"id"},
		},
		{
			name:       "username with spaces",
			kind:       models.OperationImport,
			rec:        &models.UserRecord{Username: "bad name"},
			wantErrors: 1,
			wantFields: []string{"username"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errors := NewValidator(tt.kind).ValidateRecord(tt.rec)
			if len(errors) != tt.wantErrors {
				t.Errorf("ValidateRecord() got %d errors, want %d: %v", len(errors), tt.wantErrors, errors)
			}
			for i, field := range tt.wantFields {
				if i < len(errors) && errors[i].Field != field {
					t.Errorf("error %d field = %s, want %s", i, errors[i].Field, field)
				}
			}
		})
	}
}

func TestDuplicateUsernameDetection(t *testing.T) {
	validator := NewValidator(models.OperationImport)

	if errs := validator.ValidateRecord(&models.UserRecord{Username: "Alice"}); len(errs) != 0 {
		t.Fatalf("first record should be valid, got %v", errs)
	}
	errs := validator.ValidateRecord(&models.UserRecord{Username: "alice"})
	if len(errs) != 1 || errs[0].Message != "duplicate username" {
		t.Errorf("expected duplicate username, got %v", errs)
	}
}

func TestDuplicateEmailOnlyMattersForImport(t *testing.T) {
	importer := NewValidator(models.OperationImport)
	importer.ValidateRecord(&models.UserRecord{Username: "a", Email: "same@example.com"})
	if errs := importer.ValidateRecord(&models.UserRecord{Username: "b", Email: "SAME@example.com"}); len(errs) != 1 {
		t.Errorf("expected duplicate email on import, got %v", errs)
	}

	modifier := NewValidator(models.OperationModify)
	modifier.ValidateRecord(&models.UserRecord{Username: "a", Email: "same@example.com"})
	if errs := modifier.ValidateRecord(&models.UserRecord{Username: "b", Email: "same@example.com"}); len(errs) != 0 {
		t.Errorf("modify should allow shared emails, got %v", errs)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize([]ValidationError{
		{Field: "username", Message: "username is required"},
		{Field: "email", Message: "invalid email format", Value: "x"},
	})
	want := "username: username is required; email: invalid email format (x)"
	if got != want {
		t.Errorf("Summarize() = %q, want %q", got, want)
	}
}
