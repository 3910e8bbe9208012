package lifecycle

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository"
	"github.com/quickdeploy/quickdeploy/internal/storage"
	"github.com/quickdeploy/quickdeploy/internal/ws"
	"github.com/quickdeploy/quickdeploy/pkg/config"
)

// Invalidator drops cached state for a deployment after a mutation.
type Invalidator interface {
	Invalidate(deploymentID string)
}

// Service implements renew, soft delete, clone and the cleanup sweeps.
type Service struct {
	repo   repository.DeploymentRepository
	store  storage.Store
	logger *slog.Logger
	cfg    config.APIConfig
	events *ws.Hub
	caches []Invalidator
	now    func() time.Time
}

// New returns a lifecycle service.
func New(repo repository.DeploymentRepository, store storage.Store, logger *slog.Logger, cfg config.APIConfig, events *ws.Hub, caches ...Invalidator) *Service {
	return &Service{
		repo:   repo,
		store:  store,
		logger: logger,
		cfg:    cfg,
		events: events,
		caches: caches,
		now:    time.Now,
	}
}

// CloneResult identifies the deployment produced by Clone.
type CloneResult struct {
	ID  string `json:"newId"`
	URL string `json:"newUrl"`
}

// Renew resets expiry to now + days, clamped to [1, maxExpiryDays].
// Idempotent: repeated calls simply reset the window again.
func (s *Service) Renew(ctx context.Context, deploymentID string, days int) (time.Time, error) {
	if days < 1 {
		days = 1
	}
	if days > s.cfg.MaxExpiryDays {
		days = s.cfg.MaxExpiryDays
	}
	now := s.now().UTC()
	expiresAt := now.AddDate(0, 0, days)
	if err := s.repo.RenewDeployment(ctx, deploymentID, expiresAt, now); err != nil {
		return time.Time{}, err
	}
	s.invalidate(deploymentID)
	s.events.Publish(ws.EventRenewed, deploymentID, "")
	s.logger.Info("deployment renewed", "deployment_id", deploymentID, "expires_at", expiresAt)
	return expiresAt, nil
}

// Delete soft-deletes the deployment; the metadata transition is the
// authoritative action. Byte removal afterwards is best-effort and failures
// are only logged.
func (s *Service) Delete(ctx context.Context, deploymentID string) error {
	now := s.now().UTC()
	if err := s.repo.MarkDeleted(ctx, deploymentID, now); err != nil {
		return err
	}
	s.invalidate(deploymentID)
	if err := s.store.RemoveNamespace(ctx, deploymentID); err != nil {
		s.logger.Error("failed to remove deployment bytes", "deployment_id", deploymentID, "error", err)
	}
	s.events.Publish(ws.EventDeleted, deploymentID, "")
	s.logger.Info("deployment deleted", "deployment_id", deploymentID)
	return nil
}

// Clone duplicates metadata and bytes under a new identifier with a fresh
// default expiry. The source is never mutated; failures remove the
// half-copied namespace so no partial clone becomes visible.
func (s *Service) Clone(ctx context.Context, deploymentID string) (*CloneResult, error) {
	source, err := s.repo.GetDeploymentByID(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if source.Status != domain.StatusActive {
		return nil, repository.ErrNotFound
	}
	files, err := s.repo.ListDeploymentFiles(ctx, deploymentID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cloneID := uuid.NewString()
	clone := &domain.Deployment{
		ID:             cloneID,
		Name:           source.Name + " (Copy)",
		Description:    source.Description,
		URL:            s.cfg.BaseURL + "/static/" + cloneID + "/",
		AdminURL:       s.cfg.BaseURL + "/admin/deployments/" + cloneID,
		Status:         domain.StatusActive,
		FileCount:      source.FileCount,
		TotalSizeBytes: source.TotalSizeBytes,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, s.cfg.DefaultExpiryDays),
	}

	cloneFiles := make([]domain.DeploymentFile, 0, len(files))
	for _, file := range files {
		dstKey := storage.Key(cloneID, file.FilePath)
		if err := s.store.Copy(ctx, file.StorageKey, dstKey); err != nil {
			s.removeNamespace(ctx, cloneID)
			return nil, fmt.Errorf("copy %q: %w", file.FilePath, err)
		}
		cloneFiles = append(cloneFiles, domain.DeploymentFile{
			ID:           uuid.NewString(),
			DeploymentID: cloneID,
			FilePath:     file.FilePath,
			OriginalName: file.OriginalName,
			SizeBytes:    file.SizeBytes,
			MimeType:     file.MimeType,
			StorageKey:   dstKey,
			CreatedAt:    now,
		})
	}

	if err := s.repo.CreateDeploymentWithFiles(ctx, clone, cloneFiles); err != nil {
		s.removeNamespace(ctx, cloneID)
		return nil, fmt.Errorf("persist clone: %w", err)
	}

	s.invalidate(cloneID)
	s.events.Publish(ws.EventCloned, cloneID, clone.Name)
	s.logger.Info("deployment cloned", "source_id", deploymentID, "clone_id", cloneID)
	return &CloneResult{ID: cloneID, URL: clone.URL}, nil
}

// Sweep transitions expired active deployments to deleted and reclaims
// their storage. Safe to run concurrently with itself: the conditional
// update claims each row at most once.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	claimed, err := s.repo.ClaimExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("claim expired deployments: %w", err)
	}
	for _, id := range claimed {
		s.invalidate(id)
		if err := s.store.RemoveNamespace(ctx, id); err != nil {
			s.logger.Error("failed to remove expired deployment bytes", "deployment_id", id, "error", err)
		}
		s.events.Publish(ws.EventExpired, id, "")
	}
	if len(claimed) > 0 {
		s.logger.Info("cleanup sweep completed", "expired", len(claimed))
	}
	return len(claimed), nil
}

// SweepOrphans removes storage namespaces that have no metadata row and
// are older than the configured grace period. Covers bytes left behind by
// a process crash mid-ingestion.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	ids, err := s.repo.ListDeploymentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list deployment ids: %w", err)
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	namespaces, err := s.store.ListNamespaces(ctx)
	if err != nil {
		return 0, fmt.Errorf("list storage namespaces: %w", err)
	}

	cutoff := s.now().UTC().Add(-s.cfg.OrphanGracePeriod)
	removed := 0
	for _, ns := range namespaces {
		if _, ok := known[ns.ID]; ok {
			continue
		}
		if ns.ModTime.After(cutoff) {
			continue
		}
		if err := s.store.RemoveNamespace(ctx, ns.ID); err != nil {
			s.logger.Error("failed to remove orphan namespace", "namespace", ns.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("orphan sweep completed", "removed", removed)
	}
	return removed, nil
}

func (s *Service) removeNamespace(ctx context.Context, deploymentID string) {
	if err := s.store.RemoveNamespace(ctx, deploymentID); err != nil {
		s.logger.Error("failed to clean up deployment namespace", "deployment_id", deploymentID, "error", err)
	}
}

func (s *Service) invalidate(deploymentID string) {
	for _, cache := range s.caches {
		cache.Invalidate(deploymentID)
	}
}
