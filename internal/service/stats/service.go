package stats

import (
	"context"
	"time"

	"log/slog"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository"
)

const cacheKey = "aggregate"

// Service serves dashboard counters through a short-lived cache. Mutating
// operations invalidate explicitly, so the TTL only limits query load.
type Service struct {
	repo   repository.DeploymentRepository
	cache  *expirable.LRU[string, domain.Stats]
	logger *slog.Logger
}

// New returns a stats service with the given cache TTL.
func New(repo repository.DeploymentRepository, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  expirable.NewLRU[string, domain.Stats](1, nil, ttl),
		logger: logger,
	}
}

// Stats returns aggregate counters, cached.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached, nil
	}
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	s.cache.Add(cacheKey, stats)
	return stats, nil
}

// Invalidate drops the cached aggregate after any deployment mutation.
func (s *Service) Invalidate(string) {
	s.cache.Remove(cacheKey)
}
