package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/repository"
)

// MockSessionRepository is an in-memory SessionRepository with error injection
type MockSessionRepository struct {
	mu        sync.Mutex
	store     repository.SessionRepository
	SaveError error
	SaveCalls int
}

// Verify interface compliance
var _ repository.SessionRepository = (*MockSessionRepository)(nil)

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{store: repository.NewMemorySessionRepo()}
}

func (m *MockSessionRepository) Save(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	m.SaveCalls++
	err := m.SaveError
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.store.Save(ctx, session)
}

// Saves returns how many times Save was called
func (m *MockSessionRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SaveCalls
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return m.store.GetByID(ctx, id)
}

func (m *MockSessionRepository) ListRecent(ctx context.Context, limit int) ([]*models.Session, error) {
	return m.store.ListRecent(ctx, limit)
}

func (m *MockSessionRepository) AddFailures(ctx context.Context, sessionID string, failures []models.RecordFailure) error {
	return m.store.AddFailures(ctx, sessionID, failures)
}

func (m *MockSessionRepository) GetFailures(ctx context.Context, sessionID string, limit int) ([]models.RecordFailure, error) {
	return m.store.GetFailures(ctx, sessionID, limit)
}

func (m *MockSessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return m.store.DeleteOlderThan(ctx, cutoff)
}

// MockAuditRepository records ignored users in memory
type MockAuditRepository struct {
	mu          sync.Mutex
	Ignored     []models.IgnoredUser
	RecordError error
}

// Verify interface compliance
var _ repository.AuditRepository = (*MockAuditRepository)(nil)

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) RecordIgnored(ctx context.Context, users []models.IgnoredUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RecordError != nil {
		return m.RecordError
	}
	m.Ignored = append(m.Ignored, users...)
	return nil
}

func (m *MockAuditRepository) ListIgnored(ctx context.Context, sessionID string) ([]models.IgnoredUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.IgnoredUser
	for _, u := range m.Ignored {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	return out, nil
}

// NewMockRepositories bundles fresh mock repositories
func NewMockRepositories() (*repository.Repositories, *MockSessionRepository, *MockAuditRepository) {
	sessions := NewMockSessionRepository()
	audit := NewMockAuditRepository()
	return &repository.Repositories{Session: sessions, Audit: audit}, sessions, audit
}
