package models

// EventType names a Progress Channel event
type EventType string

const (
	EventProgress           EventType = "progress"
	EventError              EventType = "error"
	EventComplete           EventType = "complete"
	EventPopulationConflict EventType = "population_conflict"
	EventInvalidPopulation  EventType = "invalid_population"
	EventClose              EventType = "close"
)

// IsTerminal reports whether no event may follow this one
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError || t == EventClose
}

// Event is one Progress Channel message. Payload is one of the *Payload types below.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ProgressPayload is emitted after each batch
type ProgressPayload struct {
	Type           EventType `json:"type"`
	Current        int       `json:"current"`
	Total          int       `json:"total"`
	Message        string    `json:"message"`
	Counts         Counts    `json:"counts"`
	PopulationName string    `json:"populationName,omitempty"`
	PopulationID   string    `json:"populationId,omitempty"`
}

// ErrorPayload is the terminal failure event
type ErrorPayload struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Details []string  `json:"details,omitempty"`
}

// CompletePayload is the terminal success event
type CompletePayload struct {
	Type    EventType `json:"type"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Message string    `json:"message"`
	Counts  Counts    `json:"counts"`
}

// PopulationConflictPayload asks the user to choose between UI and CSV populations
type PopulationConflictPayload struct {
	Type                 EventType `json:"type"`
	CSVPopulationCount   int       `json:"csvPopulationCount"`
	UISelectedPopulation string    `json:"uiSelectedPopulation"`
	Message              string    `json:"message,omitempty"`
}

// InvalidPopulationPayload asks the user for a replacement population
type InvalidPopulationPayload struct {
	Type                EventType `json:"type"`
	InvalidPopulations  []string  `json:"invalidPopulations"`
	AffectedUserCount   int       `json:"affectedUserCount"`
	AffectedUserIndexes []int     `json:"affectedUserIndexes"`
	Message             string    `json:"message,omitempty"`
}

// ClosePayload ends a cancelled session's stream
type ClosePayload struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Counts  Counts    `json:"counts"`
}

// NewProgressEvent builds a progress event from the session counters
func NewProgressEvent(s *Session, message string) Event {
	return Event{Type: EventProgress, Payload: ProgressPayload{
		Type:           EventProgress,
		Current:        s.ProcessedCount,
		Total:          s.TotalRecords,
		Message:        message,
		Counts:         s.Counts(),
		PopulationName: s.PopulationName,
		PopulationID:   s.PopulationID,
	}}
}

// NewCompleteEvent builds the terminal success event
func NewCompleteEvent(s *Session, message string) Event {
	return Event{Type: EventComplete, Payload: CompletePayload{
		Type:    EventComplete,
		Current: s.ProcessedCount,
		Total:   s.TotalRecords,
		Message: message,
		Counts:  s.Counts(),
	}}
}

// NewErrorEvent builds the terminal failure event
func NewErrorEvent(message string, details []string) Event {
	return Event{Type: EventError, Payload: ErrorPayload{
		Type:    EventError,
		Message: message,
		Details: details,
	}}
}

// NewCloseEvent builds the terminal cancellation event
func NewCloseEvent(s *Session, message string) Event {
	return Event{Type: EventClose, Payload: ClosePayload{
		Type:    EventClose,
		Message: message,
		Counts:  s.Counts(),
	}}
}
