package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pingone-bulk-users/internal/models"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+'-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[^\s<>"]{1,128}$`)
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Validator checks user records and tracks identities already seen in the current file
type Validator struct {
	kind          models.OperationKind
	usernameCache map[string]bool
	emailCache    map[string]bool
}

// NewValidator creates a validator for one operation kind
func NewValidator(kind models.OperationKind) *Validator {
	return &Validator{
		kind:          kind,
		usernameCache: make(map[string]bool),
		emailCache:    make(map[string]bool),
	}
}

// ValidateRecord validates a parsed record and remembers its identity for duplicate detection
func (v *Validator) ValidateRecord(rec *models.UserRecord) []ValidationError {
	var errors []ValidationError

	switch v.kind {
	case models.OperationImport:
		if rec.Username == "" {
			errors = append(errors, ValidationError{Field: "username", Message: "username is required"})
		}
	default:
		// modify and delete locate users by any identity column
		if rec.Username == "" && rec.Email == "" && rec.UserID == "" {
			errors = append(errors, ValidationError{Field: "username", Message: "one of username, email or id is required"})
		}
	}

	if rec.Username != "" {
		if !usernameRegex.MatchString(rec.Username) {
			errors = append(errors, ValidationError{Field: "username", Message: "username contains invalid characters", Value: rec.Username})
		} else {
			key := strings.ToLower(rec.Username)
			if v.usernameCache[key] {
				errors = append(errors, ValidationError{Field: "username", Message: "duplicate username", Value: rec.Username})
			}
			v.usernameCache[key] = true
		}
	}

	if rec.Email != "" {
		if !emailRegex.MatchString(rec.Email) {
			errors = append(errors, ValidationError{Field: "email", Message: "invalid email format", Value: rec.Email})
		} else if v.kind == models.OperationImport {
			key := strings.ToLower(rec.Email)
			if v.emailCache[key] {
				errors = append(errors, ValidationError{Field: "email", Message: "duplicate email", Value: rec.Email})
			}
			v.emailCache[key] = true
		}
	}

	if rec.UserID != "" && !isValidUUID(rec.UserID) {
		errors = append(errors, ValidationError{Field: "id", Message: "invalid UUID format", Value: rec.UserID})
	}

	if rec.PopulationID != "" && strings.ContainsAny(rec.PopulationID, " \t/") {
		errors = append(errors, ValidationError{Field: "populationId", Message: "invalid population id", Value: rec.PopulationID})
	}

	return errors
}

// Summarize joins validation errors into one failure reason
func Summarize(errs []ValidationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Value != nil {
			parts = append(parts, fmt.Sprintf("%s: %s (%v)", e.Field, e.Message, e.Value))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
	}
	return strings.Join(parts, "; ")
}

// isValidUUID checks if a string is a valid UUID
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
