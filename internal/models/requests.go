package models

import (
	"time"
)

// ImportRequest represents an import submission
type ImportRequest struct {
	PopulationID         string `json:"populationId" form:"populationId"`
	PopulationName       string `json:"populationName" form:"populationName"`
	ContinueOnUniqueness bool   `json:"continueOnUniqueness" form:"continueOnUniqueness"`
}

// ExportRequest represents an export submission
type ExportRequest struct {
	PopulationID        string `json:"populationId"`
	Fields              string `json:"fields"` // basic, custom, all
	Format              string `json:"format"` // json, csv
	IgnoreDisabledUsers bool   `json:"ignoreDisabledUsers"`
}

// Export field selection modes
const (
	ExportFieldsBasic  = "basic"
	ExportFieldsCustom = "custom"
	ExportFieldsAll    = "all"
)

// ModifyRequest represents a modify submission
type ModifyRequest struct {
	PopulationID      string `json:"populationId" form:"populationId"`
	CreateIfNotExists bool   `json:"createIfNotExists" form:"createIfNotExists"`
}

// DeleteRequest represents a CSV-driven delete submission
type DeleteRequest struct {
	PopulationID string `json:"populationId" form:"populationId"`
}

// PopulationDeleteRequest deletes every user of one population
type PopulationDeleteRequest struct {
	PopulationID string `json:"populationId"`
}

// ResolveConflictRequest answers a population_conflict event
type ResolveConflictRequest struct {
	SessionID        string `json:"sessionId"`
	UseCSVPopulation bool   `json:"useCsvPopulation"`
}

// ResolveInvalidPopulationRequest answers an invalid_population event
type ResolveInvalidPopulationRequest struct {
	SessionID            string `json:"sessionId"`
	SelectedPopulationID string `json:"selectedPopulationId"`
}

// CancelRequest asks a running session to stop at the next batch boundary
type CancelRequest struct {
	SessionID string `json:"sessionId"`
}

// BatchResult is the synchronous result of modify/delete operations
type BatchResult struct {
	SessionID string          `json:"sessionId"`
	Operation OperationKind   `json:"operation"`
	State     SessionState    `json:"state"`
	Total     int             `json:"total"`
	Counts    Counts          `json:"counts"`
	Created   int             `json:"created,omitempty"`
	Updated   int             `json:"updated,omitempty"`
	NoChanges int             `json:"noChanges,omitempty"`
	Failures  []RecordFailure `json:"failures,omitempty"`
	Message   string          `json:"message"`
}

// ExportResult is the synchronous result of an export
type ExportResult struct {
	SessionID    string              `json:"sessionId"`
	Total        int                 `json:"total"`
	IgnoredCount int                 `json:"ignoredCount"`
	Columns      []string            `json:"columns"`
	Users        []map[string]string `json:"users"`
	Warnings     []string            `json:"warnings,omitempty"`
}

// IgnoredUser is one audit trail entry for a record excluded from an export
type IgnoredUser struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credentials identify a PingOne worker application
type Credentials struct {
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	EnvironmentID string `json:"environmentId"`
	Region        string `json:"region"`
}

// Token is a cached bearer token
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ValidFor reports whether the token is still usable at now with the given safety buffer
func (t *Token) ValidFor(now time.Time, buffer time.Duration) bool {
	return t != nil && t.AccessToken != "" && now.Add(buffer).Before(t.ExpiresAt)
}
