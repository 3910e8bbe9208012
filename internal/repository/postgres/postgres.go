package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var _ repository.DeploymentRepository = (*Repository)(nil)

const deploymentColumns = `id, name, description, url, admin_url, status, file_count, total_size_bytes, created_at, updated_at, expires_at`

// CreateDeploymentWithFiles inserts the deployment and its file rows in one
// transaction.
func (r *Repository) CreateDeploymentWithFiles(ctx context.Context, deployment *domain.Deployment, files []domain.DeploymentFile) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertDeployment = `INSERT INTO deployments (id, name, description, url, admin_url, status, file_count, total_size_bytes, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := tx.Exec(ctx, insertDeployment,
		deployment.ID, deployment.Name, deployment.Description, deployment.URL, deployment.AdminURL,
		deployment.Status, deployment.FileCount, deployment.TotalSizeBytes,
		deployment.CreatedAt, deployment.UpdatedAt, deployment.ExpiresAt,
	); err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}

	const insertFile = `INSERT INTO deployment_files (id, deployment_id, file_path, original_name, size_bytes, mime_type, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, file := range files {
		if _, err := tx.Exec(ctx, insertFile,
			file.ID, file.DeploymentID, file.FilePath, file.OriginalName,
			file.SizeBytes, file.MimeType, file.StorageKey, file.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert deployment file %q: %w", file.FilePath, err)
		}
	}

	return tx.Commit(ctx)
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	deployment, err := scanDeployment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return deployment, nil
}

// ListDeployments returns deployments, newest first.
func (r *Repository) ListDeployments(ctx context.Context, includeDeleted bool) ([]domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY created_at DESC`
	if !includeDeleted {
		query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE status = 'active' ORDER BY created_at DESC`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *deployment)
	}
	return deployments, rows.Err()
}

// ListDeploymentFiles returns file records for the deployment ordered by path.
func (r *Repository) ListDeploymentFiles(ctx context.Context, deploymentID string) ([]domain.DeploymentFile, error) {
	const query = `SELECT id, deployment_id, file_path, original_name, size_bytes, mime_type, storage_key, created_at
		FROM deployment_files WHERE deployment_id = $1 ORDER BY file_path`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]domain.DeploymentFile, 0)
	for rows.Next() {
		var file domain.DeploymentFile
		if err := rows.Scan(&file.ID, &file.DeploymentID, &file.FilePath, &file.OriginalName,
			&file.SizeBytes, &file.MimeType, &file.StorageKey, &file.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// ListDeploymentIDs returns every deployment id regardless of status.
func (r *Repository) ListDeploymentIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM deployments`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RenewDeployment resets expiry on an active deployment.
func (r *Repository) RenewDeployment(ctx context.Context, deploymentID string, expiresAt, updatedAt time.Time) error {
	const query = `UPDATE deployments SET expires_at = $2, updated_at = $3 WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, query, deploymentID, expiresAt, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkDeleted soft-deletes an active deployment. The status predicate makes
// the transition happen at most once under concurrent callers.
func (r *Repository) MarkDeleted(ctx context.Context, deploymentID string, updatedAt time.Time) error {
	const query = `UPDATE deployments SET status = 'deleted', updated_at = $2 WHERE id = $1 AND status = 'active'`
	tag, err := r.pool.Exec(ctx, query, deploymentID, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ClaimExpired transitions expired active deployments to deleted and returns
// the claimed ids.
func (r *Repository) ClaimExpired(ctx context.Context, now time.Time) ([]string, error) {
	const query = `UPDATE deployments SET status = 'deleted', updated_at = $1
		WHERE expires_at < $1 AND status = 'active'
		RETURNING id`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats aggregates deployment counters across active rows.
func (r *Repository) Stats(ctx context.Context) (domain.Stats, error) {
	const query = `SELECT
		COUNT(1) FILTER (WHERE status = 'active'),
		COUNT(1) FILTER (WHERE status = 'deleted'),
		COALESCE(SUM(file_count) FILTER (WHERE status = 'active'), 0),
		COALESCE(SUM(total_size_bytes) FILTER (WHERE status = 'active'), 0)
		FROM deployments`
	row := r.pool.QueryRow(ctx, query)
	var stats domain.Stats
	if err := row.Scan(&stats.ActiveDeployments, &stats.DeletedDeployments, &stats.TotalFiles, &stats.TotalSizeBytes); err != nil {
		return domain.Stats{}, err
	}
	stats.GeneratedAt = time.Now().UTC()
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &d.URL, &d.AdminURL, &d.Status,
		&d.FileCount, &d.TotalSizeBytes, &d.CreatedAt, &d.UpdatedAt, &d.ExpiresAt); err != nil {
		return nil, err
	}
	return &d, nil
}
