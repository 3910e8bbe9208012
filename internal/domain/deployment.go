package domain

import "time"

// Deployment statuses. An "expired" state is derived from ExpiresAt at read
// time and never stored.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Deployment is a named, expiring bundle of static files with a public URL.
type Deployment struct {
	ID             string
	Name           string
	Description    string
	URL            string
	AdminURL       string
	Status         string
	FileCount      int
	TotalSizeBytes int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the deployment lapsed as of now.
func (d *Deployment) Expired(now time.Time) bool {
	return d.ExpiresAt.Before(now)
}

// DeploymentFile is a single stored file belonging to one deployment.
type DeploymentFile struct {
	ID           string
	DeploymentID string
	FilePath     string
	OriginalName string
	SizeBytes    int64
	MimeType     string
	StorageKey   string
	CreatedAt    time.Time
}

// Stats aggregates deployment counters for the dashboard.
type Stats struct {
	ActiveDeployments  int       `json:"activeDeployments"`
	DeletedDeployments int       `json:"deletedDeployments"`
	TotalFiles         int       `json:"totalFiles"`
	TotalSizeBytes     int64     `json:"totalSizeBytes"`
	GeneratedAt        time.Time `json:"generatedAt"`
}
