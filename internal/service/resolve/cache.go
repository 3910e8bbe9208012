package resolve

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quickdeploy/quickdeploy/internal/domain"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "resolver",
		Name:      "metadata_cache_hits_total",
		Help:      "Deployment metadata cache hits",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quickdeploy",
		Subsystem: "resolver",
		Name:      "metadata_cache_misses_total",
		Help:      "Deployment metadata cache misses",
	})
)

// MetadataCache is a read-through TTL cache of deployment metadata used by
// the resolver. Every mutating operation calls Invalidate explicitly; the
// TTL only bounds staleness of reads that race external writers, it is not
// relied on for correctness.
type MetadataCache struct {
	cache *expirable.LRU[string, *domain.Deployment]
}

// NewMetadataCache creates a cache with the given capacity and entry TTL.
func NewMetadataCache(size int, ttl time.Duration) *MetadataCache {
	return &MetadataCache{cache: expirable.NewLRU[string, *domain.Deployment](size, nil, ttl)}
}

// Get returns the cached deployment, if present.
func (c *MetadataCache) Get(deploymentID string) (*domain.Deployment, bool) {
	deployment, ok := c.cache.Get(deploymentID)
	if ok {
		cacheHitsTotal.Inc()
		return deployment, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set stores the deployment.
func (c *MetadataCache) Set(deploymentID string, deployment *domain.Deployment) {
	c.cache.Add(deploymentID, deployment)
}

// Invalidate drops the cached entry after a mutation.
func (c *MetadataCache) Invalidate(deploymentID string) {
	c.cache.Remove(deploymentID)
}
