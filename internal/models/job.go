package models

import (
	"time"
)

// SessionState represents the lifecycle state of a bulk session
type SessionState string

const (
	SessionStatePending                   SessionState = "pending"
	SessionStateRunning                   SessionState = "running"
	SessionStateAwaitingConflict          SessionState = "awaiting-conflict-resolution"
	SessionStateAwaitingInvalidPopulation SessionState = "awaiting-invalid-population-resolution"
	SessionStateCancelled                 SessionState = "cancelled"
	SessionStateCompleted                 SessionState = "completed"
	SessionStateFailed                    SessionState = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s SessionState) IsTerminal() bool {
	return s == SessionStateCancelled || s == SessionStateCompleted || s == SessionStateFailed
}

// OperationKind represents the bulk operation a session performs
type OperationKind string

const (
	OperationImport           OperationKind = "import"
	OperationExport           OperationKind = "export"
	OperationModify           OperationKind = "modify"
	OperationDelete           OperationKind = "delete"
	OperationPopulationDelete OperationKind = "population-delete"
)

// Counts is the cumulative outcome tally carried on progress events
type Counts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Total returns the number of classified records
func (c Counts) Total() int {
	return c.Success + c.Failed + c.Skipped
}

// Session represents one in-flight bulk operation
type Session struct {
	ID             string        `json:"sessionId" db:"id"`
	Kind           OperationKind `json:"operation" db:"operation"`
	State          SessionState  `json:"state" db:"state"`
	TotalRecords   int           `json:"totalRecords" db:"total_records"`
	ProcessedCount int           `json:"processed" db:"processed_count"`
	SuccessCount   int           `json:"success" db:"success_count"`
	FailedCount    int           `json:"failed" db:"failed_count"`
	SkippedCount   int           `json:"skipped" db:"skipped_count"`
	PopulationID   string        `json:"populationId,omitempty" db:"population_id"`
	PopulationName string        `json:"populationName,omitempty" db:"population_name"`
	Error          string        `json:"error,omitempty" db:"error"`
	DurationMs     int64         `json:"durationMs,omitempty" db:"duration_ms"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	StartedAt      *time.Time    `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty" db:"completed_at"`
}

// Counts returns the session's outcome tally
func (s *Session) Counts() Counts {
	return Counts{Success: s.SuccessCount, Failed: s.FailedCount, Skipped: s.SkippedCount}
}

// Outcome classifies the result of processing one record
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Apply adds one classified record to the counters.
// processed never exceeds total and always equals success+failed+skipped.
func (s *Session) Apply(outcome Outcome) bool {
	if s.ProcessedCount >= s.TotalRecords {
		return false
	}
	switch outcome {
	case OutcomeSuccess:
		s.SuccessCount++
	case OutcomeFailed:
		s.FailedCount++
	case OutcomeSkipped:
		s.SkippedCount++
	default:
		return false
	}
	s.ProcessedCount++
	return true
}

// RecordFailure is one entry of a session's per-record detail log
type RecordFailure struct {
	Index    int     `json:"index"`
	Line     int     `json:"line"`
	Username string  `json:"username,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason"`
}

// SessionResponse is the API response for session status
type SessionResponse struct {
	Session
	Failures     []RecordFailure `json:"failures,omitempty"`
	FailureCount int             `json:"failureCount,omitempty"`
	ErrorReport  string          `json:"errorReportUrl,omitempty"`
}
