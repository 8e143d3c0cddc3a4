package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pingone-bulk-users/internal/models"
)

// memorySessionRepo keeps session history in process memory
type memorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	failures map[string][]models.RecordFailure
}

// NewMemorySessionRepo creates an in-memory SessionRepository
func NewMemorySessionRepo() SessionRepository {
	return &memorySessionRepo{
		sessions: make(map[string]models.Session),
		failures: make(map[string][]models.RecordFailure),
	}
}

func (r *memorySessionRepo) Save(ctx context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memorySessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memorySessionRepo) ListRecent(ctx context.Context, limit int) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memorySessionRepo) AddFailures(ctx context.Context, sessionID string, failures []models.RecordFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[sessionID] = append(r.failures[sessionID], failures...)
	return nil
}

func (r *memorySessionRepo) GetFailures(ctx context.Context, sessionID string, limit int) ([]models.RecordFailure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := append([]models.RecordFailure(nil), r.failures[sessionID]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Index < all[j].Index })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memorySessionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(r.sessions, id)
			delete(r.failures, id)
			n++
		}
	}
	return n, nil
}

// memoryAuditRepo keeps the ignored-users trail in process memory
type memoryAuditRepo struct {
	mu      sync.RWMutex
	entries []models.IgnoredUser
}

// NewMemoryAuditRepo creates an in-memory AuditRepository
func NewMemoryAuditRepo() AuditRepository {
	return &memoryAuditRepo{}
}

func (r *memoryAuditRepo) RecordIgnored(ctx context.Context, users []models.IgnoredUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, users...)
	return nil
}

func (r *memoryAuditRepo) ListIgnored(ctx context.Context, sessionID string) ([]models.IgnoredUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.IgnoredUser
	for _, u := range r.entries {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
