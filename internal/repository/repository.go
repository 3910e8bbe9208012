package repository

import (
	"context"
	"time"

	"github.com/quickdeploy/quickdeploy/internal/domain"
)

// DeploymentRepository persists deployments and their file records.
type DeploymentRepository interface {
	// CreateDeploymentWithFiles inserts the deployment row and all file rows
	// atomically: either everything is visible afterwards or nothing is.
	CreateDeploymentWithFiles(ctx context.Context, deployment *domain.Deployment, files []domain.DeploymentFile) error
	GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, includeDeleted bool) ([]domain.Deployment, error)
	ListDeploymentFiles(ctx context.Context, deploymentID string) ([]domain.DeploymentFile, error)
	// ListDeploymentIDs returns ids of every deployment row regardless of
	// status. Used by the orphan sweep to detect unowned storage namespaces.
	ListDeploymentIDs(ctx context.Context) ([]string, error)

	// RenewDeployment resets expiry on an active deployment. Returns
	// ErrNotFound when the row is absent or not active.
	RenewDeployment(ctx context.Context, deploymentID string, expiresAt, updatedAt time.Time) error
	// MarkDeleted transitions an active deployment to deleted. Returns
	// ErrNotFound when the row is absent or already deleted.
	MarkDeleted(ctx context.Context, deploymentID string, updatedAt time.Time) error
	// ClaimExpired marks every active deployment past its expiry as deleted
	// and returns the claimed ids. The conditional update makes concurrent
	// sweeps claim each row at most once.
	ClaimExpired(ctx context.Context, now time.Time) ([]string, error)

	Stats(ctx context.Context) (domain.Stats, error)
}
