package repository

import (
	"context"
	"time"

	"github.com/pingone-bulk-users/internal/database"
	"github.com/pingone-bulk-users/internal/models"
)

// SessionRepository stores the history of finished sessions and their per-record failures
type SessionRepository interface {
	Save(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Session, error)
	AddFailures(ctx context.Context, sessionID string, failures []models.RecordFailure) error
	GetFailures(ctx context.Context, sessionID string, limit int) ([]models.RecordFailure, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditRepository stores the ignored-users audit trail written by exports
type AuditRepository interface {
	RecordIgnored(ctx context.Context, users []models.IgnoredUser) error
	ListIgnored(ctx context.Context, sessionID string) ([]models.IgnoredUser, error)
}

// Repositories holds all repository interfaces
type Repositories struct {
	Session SessionRepository
	Audit   AuditRepository
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	return &Repositories{
		Session: NewSessionRepo(db),
		Audit:   NewAuditRepo(db),
	}
}

// NewInMemory creates process-local repositories, used when no database is configured
func NewInMemory() *Repositories {
	return &Repositories{
		Session: NewMemorySessionRepo(),
		Audit:   NewMemoryAuditRepo(),
	}
}
