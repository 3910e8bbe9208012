package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository"
)

// Repository is an in-memory DeploymentRepository used by tests and local
// development. It honors the same conditional-update semantics as the
// PostgreSQL implementation.
type Repository struct {
	mu          sync.Mutex
	deployments map[string]domain.Deployment
	files       map[string][]domain.DeploymentFile
}

// New returns an empty in-memory repository.
func New() *Repository {
	return &Repository{
		deployments: make(map[string]domain.Deployment),
		files:       make(map[string][]domain.DeploymentFile),
	}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

// CreateDeploymentWithFiles stores the deployment and its files atomically.
func (r *Repository) CreateDeploymentWithFiles(_ context.Context, deployment *domain.Deployment, files []domain.DeploymentFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[deployment.ID] = *deployment
	copied := make([]domain.DeploymentFile, len(files))
	copy(copied, files)
	r.files[deployment.ID] = copied
	return nil
}

// GetDeploymentByID looks up a deployment.
func (r *Repository) GetDeploymentByID(_ context.Context, deploymentID string) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deployment, ok := r.deployments[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &deployment, nil
}

// ListDeployments returns deployments, newest first.
func (r *Repository) ListDeployments(_ context.Context, includeDeleted bool) ([]domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deployments := make([]domain.Deployment, 0, len(r.deployments))
	for _, deployment := range r.deployments {
		if !includeDeleted && deployment.Status != domain.StatusActive {
			continue
		}
		deployments = append(deployments, deployment)
	}
	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
	})
	return deployments, nil
}

// ListDeploymentFiles returns file records ordered by path.
func (r *Repository) ListDeploymentFiles(_ context.Context, deploymentID string) ([]domain.DeploymentFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := make([]domain.DeploymentFile, len(r.files[deploymentID]))
	copy(files, r.files[deploymentID])
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
	return files, nil
}

// ListDeploymentIDs returns every stored deployment id.
func (r *Repository) ListDeploymentIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.deployments))
	for id := range r.deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RenewDeployment resets expiry on an active deployment.
func (r *Repository) RenewDeployment(_ context.Context, deploymentID string, expiresAt, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	deployment, ok := r.deployments[deploymentID]
	if !ok || deployment.Status != domain.StatusActive {
		return repository.ErrNotFound
	}
	deployment.ExpiresAt = expiresAt
	deployment.UpdatedAt = updatedAt
	r.deployments[deploymentID] = deployment
	return nil
}

// MarkDeleted soft-deletes an active deployment.
func (r *Repository) MarkDeleted(_ context.Context, deploymentID string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	deployment, ok := r.deployments[deploymentID]
	if !ok || deployment.Status != domain.StatusActive {
		return repository.ErrNotFound
	}
	deployment.Status = domain.StatusDeleted
	deployment.UpdatedAt = updatedAt
	r.deployments[deploymentID] = deployment
	return nil
}

// ClaimExpired marks expired active deployments deleted, returning their ids.
func (r *Repository) ClaimExpired(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	claimed := make([]string, 0)
	for id, deployment := range r.deployments {
		if deployment.Status != domain.StatusActive || !deployment.ExpiresAt.Before(now) {
			continue
		}
		deployment.Status = domain.StatusDeleted
		deployment.UpdatedAt = now
		r.deployments[id] = deployment
		claimed = append(claimed, id)
	}
	sort.Strings(claimed)
	return claimed, nil
}

// Stats aggregates counters across stored deployments.
func (r *Repository) Stats(_ context.Context) (domain.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := domain.Stats{GeneratedAt: time.Now().UTC()}
	for _, deployment := range r.deployments {
		switch deployment.Status {
		case domain.StatusActive:
			stats.ActiveDeployments++
			stats.TotalFiles += deployment.FileCount
			stats.TotalSizeBytes += deployment.TotalSizeBytes
		case domain.StatusDeleted:
			stats.DeletedDeployments++
		}
	}
	return stats, nil
}
