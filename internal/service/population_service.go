package service

import (
	"context"
	"sync"
	"time"

	"github.com/pingone-bulk-users/internal/models"
	"github.com/pingone-bulk-users/internal/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const populationCacheTTL = 30 * time.Second

// populationService caches the population list for a short time
type populationService struct {
	dir   Directory
	queue *queue.Queue
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger

	mu        sync.Mutex
	cached    []models.Population
	fetchedAt time.Time
}

// newPopulationService creates a new PopulationService
func newPopulationService(dir Directory, q *queue.Queue, log zerolog.Logger) *populationService {
	return &populationService{
		dir:   dir,
		queue: q,
		ttl:   populationCacheTTL,
		now:   time.Now,
		log:   log.With().Str("service", "populations").Logger(),
	}
}

// ListPopulations returns the environment's populations, fetching at most once per TTL
func (s *populationService) ListPopulations(ctx context.Context) ([]models.Population, error) {
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		out := append([]models.Population(nil), s.cached...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("populations", func() (any, error) {
		// Shared by every waiter, so no single caller may cancel it
		fetchCtx := context.WithoutCancel(ctx)
		pops, err := queue.Run(fetchCtx, s.queue, queue.PriorityHigh, s.dir.ListPopulations)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = pops
		s.fetchedAt = s.now()
		s.mu.Unlock()
		s.log.Debug().Int("count", len(pops)).Msg("Population list refreshed")
		return pops, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.Population(nil), v.([]models.Population)...), nil
}

// Invalidate drops the cached list
func (s *populationService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
