package models

import (
	"encoding/json"
)

// UserRecord represents a single user row from an uploaded CSV
type UserRecord struct {
	Index        int               `json:"index"`
	Line         int               `json:"line"`
	Username     string            `json:"username,omitempty"`
	Email        string            `json:"email,omitempty"`
	GivenName    string            `json:"givenName,omitempty"`
	FamilyName   string            `json:"familyName,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Title        string            `json:"title,omitempty"`
	Department   string            `json:"department,omitempty"`
	UserID       string            `json:"id,omitempty"`
	PopulationID string            `json:"populationId,omitempty"`
	Password     string            `json:"-"`
	Enabled      *bool             `json:"enabled,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Identity returns the best human-readable identifier for logs and failure reports
func (r *UserRecord) Identity() string {
	if r.Username != "" {
		return r.Username
	}
	if r.Email != "" {
		return r.Email
	}
	return r.UserID
}

// RemoteName is the name object of a PingOne user
type RemoteName struct {
	Given     string `json:"given,omitempty"`
	Family    string `json:"family,omitempty"`
	Formatted string `json:"formatted,omitempty"`
}

// RemoteRef is a reference to another PingOne resource
type RemoteRef struct {
	ID string `json:"id"`
}

// RemoteUser is a user as returned by the PingOne API.
// Raw keeps the complete payload for export shaping.
type RemoteUser struct {
	ID           string         `json:"id"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	Enabled      bool           `json:"enabled"`
	Name         RemoteName     `json:"name"`
	PrimaryPhone string         `json:"primaryPhone"`
	Title        string         `json:"title"`
	Department   string         `json:"department"`
	Population   RemoteRef      `json:"population"`
	Raw          map[string]any `json:"-"`
}

// UnmarshalJSON decodes the typed fields and keeps the raw document
func (u *RemoteUser) UnmarshalJSON(data []byte) error {
	type plain RemoteUser
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = RemoteUser(p)
	u.Raw = raw
	return nil
}

// Population is a named partition of users in the environment
type Population struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	UserCount   int    `json:"userCount,omitempty"`
}
