package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/quickdeploy/quickdeploy/internal/contenttype"
	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository"
	"github.com/quickdeploy/quickdeploy/internal/storage"
	"github.com/quickdeploy/quickdeploy/internal/ws"
	"github.com/quickdeploy/quickdeploy/pkg/config"
)

// Validation failures surfaced to callers as 4xx responses.
var (
	ErrInvalidName         = errors.New("deployment name must be 1-100 letters, digits, spaces, hyphens or underscores")
	ErrNoFiles             = errors.New("no files provided")
	ErrTooManyFiles        = errors.New("too many files in upload")
	ErrFileTooLarge        = errors.New("file exceeds the maximum allowed size")
	ErrBatchTooLarge       = errors.New("upload exceeds the maximum total size")
	ErrExtensionNotAllowed = errors.New("file extension is not allowed")
	ErrDuplicatePath       = errors.New("duplicate file path in upload")
	ErrUnsafePath          = errors.New("file path escapes the deployment root")
	ErrInvalidArchive      = errors.New("payload is not a valid ZIP archive")
)

var validationErrors = []error{
	ErrInvalidName, ErrNoFiles, ErrTooManyFiles, ErrFileTooLarge,
	ErrBatchTooLarge, ErrExtensionNotAllowed, ErrDuplicatePath,
	ErrUnsafePath, ErrInvalidArchive,
}

// IsValidationError reports whether err is caller input rejection rather
// than a storage or persistence failure.
func IsValidationError(err error) bool {
	for _, sentinel := range validationErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,100}$`)

// FileEntry is one incoming file in an upload batch.
type FileEntry struct {
	Path         string
	OriginalName string
	Size         int64
	Open         func() (io.ReadCloser, error)
}

// Input carries the user-supplied deployment attributes.
type Input struct {
	Name        string
	Description string
	ExpiryDays  int
}

// Result summarizes a successful ingestion.
type Result struct {
	ID             string `json:"deploymentId"`
	URL            string `json:"url"`
	AdminURL       string `json:"adminUrl"`
	FileCount      int    `json:"fileCount"`
	TotalSizeBytes int64  `json:"totalSize"`
}

// Invalidator drops cached state for a deployment after a mutation.
type Invalidator interface {
	Invalidate(deploymentID string)
}

// Service ingests file sets into the content store and metadata store.
type Service struct {
	repo   repository.DeploymentRepository
	store  storage.Store
	logger *slog.Logger
	cfg    config.APIConfig
	events *ws.Hub
	caches []Invalidator
	now    func() time.Time
}

// New returns an ingestion service.
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

// Ingest validates the batch, writes bytes under a fresh deployment
// namespace and inserts metadata transactionally. Any failure removes the
// namespace again so no partial deployment is visible to readers.
func (s *Service) Ingest(ctx context.Context, in Input, files []FileEntry) (*Result, error) {
	entries, err := s.validate(in, files)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := uuid.NewString()
	deployment := &domain.Deployment{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		URL:         s.cfg.BaseURL + "/static/" + id + "/",
		AdminURL:    s.cfg.BaseURL + "/admin/deployments/" + id,
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, clampExpiryDays(in.ExpiryDays, s.cfg.DefaultExpiryDays, s.cfg.MaxExpiryDays)),
	}

	records, totalBytes, err := s.writeFiles(ctx, id, entries, now)
	if err != nil {
		s.removeNamespace(ctx, id)
		return nil, err
	}
	deployment.FileCount = len(records)
	deployment.TotalSizeBytes = totalBytes

	if err := s.repo.CreateDeploymentWithFiles(ctx, deployment, records); err != nil {
		s.removeNamespace(ctx, id)
		return nil, fmt.Errorf("persist deployment: %w", err)
	}

	s.invalidate(id)
	s.events.Publish(ws.EventCreated, id, deployment.Name)
	s.logger.Info("deployment ingested", "deployment_id", id, "files", len(records), "bytes", totalBytes)
	return &Result{
		ID:             id,
		URL:            deployment.URL,
		AdminURL:       deployment.AdminURL,
		FileCount:      deployment.FileCount,
		TotalSizeBytes: deployment.TotalSizeBytes,
	}, nil
}

// validate checks the name and every entry before any byte is written.
func (s *Service) validate(in Input, files []FileEntry) ([]FileEntry, error) {
	if !namePattern.MatchString(in.Name) {
		return nil, ErrInvalidName
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if len(files) > s.cfg.MaxUploadFiles {
		return nil, fmt.Errorf("%w: %d files, limit %d", ErrTooManyFiles, len(files), s.cfg.MaxUploadFiles)
	}

	entries := make([]FileEntry, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	var declared int64
	for _, file := range files {
		cleaned, err := storage.CleanRelPath(file.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, file.Path)
		}
		if _, err := s.allowedExtension(cleaned); err != nil {
			return nil, err
		}
		if _, dup := seen[cleaned]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePath, cleaned)
		}
		seen[cleaned] = struct{}{}
		if file.Size > s.cfg.MaxFileSizeBytes {
			return nil, fmt.Errorf("%w: %q (%d bytes)", ErrFileTooLarge, cleaned, file.Size)
		}
		declared += file.Size
		file.Path = cleaned
		entries = append(entries, file)
	}
	if declared > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrBatchTooLarge, declared, s.cfg.MaxUploadBytes)
	}
	return entries, nil
}

func (s *Service) allowedExtension(cleaned string) (string, error) {
	ext := extension(cleaned)
	if _, ok := s.cfg.AllowedExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrExtensionNotAllowed, cleaned)
	}
	return ext, nil
}

// writeFiles streams each entry into the store, enforcing size caps on the
// bytes actually written.
func (s *Service) writeFiles(ctx context.Context, deploymentID string, entries []FileEntry, now time.Time) ([]domain.DeploymentFile, int64, error) {
	records := make([]domain.DeploymentFile, 0, len(entries))
	var total int64
	for _, entry := range entries {
		reader, err := entry.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("open %q: %w", entry.Path, err)
		}
		key := storage.Key(deploymentID, entry.Path)
		written, err := s.store.Put(ctx, key, io.LimitReader(reader, s.cfg.MaxFileSizeBytes+1))
		reader.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("store %q: %w", entry.Path, err)
		}
		if written > s.cfg.MaxFileSizeBytes {
			return nil, 0, fmt.Errorf("%w: %q", ErrFileTooLarge, entry.Path)
		}
		total += written
		if total > s.cfg.MaxUploadBytes {
			return nil, 0, fmt.Errorf("%w: limit %d", ErrBatchTooLarge, s.cfg.MaxUploadBytes)
		}
		originalName := entry.OriginalName
		if originalName == "" {
			originalName = entry.Path
		}
		records = append(records, domain.DeploymentFile{
			ID:           uuid.NewString(),
			DeploymentID: deploymentID,
			FilePath:     entry.Path,
			OriginalName: originalName,
			SizeBytes:    written,
			MimeType:     contenttype.ByPath(entry.Path),
			StorageKey:   key,
			CreatedAt:    now,
		})
	}
	return records, total, nil
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

func clampExpiryDays(requested, fallback, max int) int {
	days := requested
	if days <= 0 {
		days = fallback
	}
	if days < 1 {
		days = 1
	}
	if days > max {
		days = max
	}
	return days
}

func extension(p string) string {
	return strings.ToLower(path.Ext(p))
}
