package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/quickdeploy/quickdeploy/internal/contenttype"
	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository"
	"github.com/quickdeploy/quickdeploy/internal/storage"
)

// ErrExpired indicates the deployment exists but its expiry has passed.
// Surfaced as 410, distinct from not-found.
var ErrExpired = errors.New("deployment has expired")

// Content is a resolved static file ready to serve.
type Content struct {
	Path        string
	ContentType string
	Bytes       []byte
}

// Service maps (deploymentID, path) pairs to stored bytes.
type Service struct {
	repo   repository.DeploymentRepository
	store  storage.Store
	cache  *MetadataCache
	logger *slog.Logger
	now    func() time.Time
}

// New returns a resolver.
func New(repo repository.DeploymentRepository, store storage.Store, cache *MetadataCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, store: store, cache: cache, logger: logger, now: time.Now}
}

// Resolve finds the deployment, checks its lifecycle state and fetches the
// requested file. Empty paths and directory paths fall back to index.html.
func (s *Service) Resolve(ctx context.Context, deploymentID, requestedPath string) (*Content, error) {
	deployment, err := s.lookup(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if deployment.Status != domain.StatusActive {
		return nil, repository.ErrNotFound
	}
	if deployment.Expired(s.now().UTC()) {
		return nil, ErrExpired
	}

	resolved := requestedPath
	if resolved == "" || strings.HasSuffix(resolved, "/") {
		resolved += "index.html"
	}
	cleaned, err := storage.CleanRelPath(resolved)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	data, err := s.store.Get(ctx, storage.Key(deploymentID, cleaned))
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &Content{
		Path:        cleaned,
		ContentType: contenttype.ByPath(cleaned),
		Bytes:       data,
	}, nil
}

// lookup reads deployment metadata through the cache.
func (s *Service) lookup(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	if s.cache != nil {
		if deployment, ok := s.cache.Get(deploymentID); ok {
			return deployment, nil
		}
	}
	deployment, err := s.repo.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(deploymentID, deployment)
	}
	return deployment, nil
}
