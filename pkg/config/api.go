package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Storage backend identifiers.
const (
	StorageFilesystem = "filesystem"
	StorageS3         = "s3"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	BaseURL       string

	StorageBackend string
	StorageRoot    string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	MaxFileSizeBytes  int64
	MaxUploadBytes    int64
	MaxUploadFiles    int
	AllowedExtensions map[string]struct{}

	DefaultExpiryDays int
	MaxExpiryDays     int

	CleanupInterval   time.Duration
	OrphanGracePeriod time.Duration

	MetadataCacheSize int
	MetadataCacheTTL  time.Duration
	StatsCacheTTL     time.Duration

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://quickdeploy:quickdeploy@db:5432/quickdeploy?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		BaseURL:       GetString("BASE_URL", "http://localhost:4000"),

		StorageBackend: GetString("STORAGE_BACKEND", StorageFilesystem),
		StorageRoot:    GetString("STORAGE_ROOT", "/var/lib/quickdeploy/deployments"),
		S3Bucket:       GetString("S3_BUCKET", ""),
		S3Region:       GetString("S3_REGION", "us-east-1"),
		S3Endpoint:     GetString("S3_ENDPOINT", ""),
		S3AccessKey:    GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:    GetString("S3_SECRET_KEY", ""),

		MaxFileSizeBytes:  GetInt64("MAX_FILE_SIZE_BYTES", 10<<20),
		MaxUploadBytes:    GetInt64("MAX_UPLOAD_BYTES", 50<<20),
		MaxUploadFiles:    GetInt("MAX_UPLOAD_FILES", 200),
		AllowedExtensions: ParseExtensions(GetString("ALLOWED_EXTENSIONS", defaultExtensions)),

		DefaultExpiryDays: GetInt("DEFAULT_EXPIRY_DAYS", 7),
		MaxExpiryDays:     GetInt("MAX_EXPIRY_DAYS", 30),

		CleanupInterval:   time.Duration(GetInt("CLEANUP_INTERVAL_SECONDS", 300)) * time.Second,
		OrphanGracePeriod: time.Duration(GetInt("ORPHAN_GRACE_HOURS", 24)) * time.Hour,

		MetadataCacheSize: GetInt("METADATA_CACHE_SIZE", 1024),
		MetadataCacheTTL:  time.Duration(GetInt("METADATA_CACHE_TTL_SECONDS", 30)) * time.Second,
		StatsCacheTTL:     time.Duration(GetInt("STATS_CACHE_TTL_SECONDS", 15)) * time.Second,

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

const defaultExtensions = ".html,.htm,.css,.js,.mjs,.json,.txt,.md,.xml,.ico,.png,.jpg,.jpeg,.gif,.svg,.webp,.avif,.woff,.woff2,.ttf,.otf,.eot,.map,.webmanifest,.pdf,.mp4,.webm,.mp3,.wasm"

// ParseExtensions converts a comma-separated extension list into a set.
// Entries are lowercased and normalized to a leading dot.
func ParseExtensions(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// Validate checks the configuration once at startup.
func (c APIConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid BASE_URL: %w", err)
	}
	switch c.StorageBackend {
	case StorageFilesystem:
		if c.StorageRoot == "" {
			return fmt.Errorf("STORAGE_ROOT is required for the filesystem backend")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.MaxFileSizeBytes <= 0 || c.MaxUploadBytes <= 0 {
		return fmt.Errorf("upload size limits must be positive")
	}
	if c.MaxFileSizeBytes > c.MaxUploadBytes {
		return fmt.Errorf("MAX_FILE_SIZE_BYTES cannot exceed MAX_UPLOAD_BYTES")
	}
	if c.MaxUploadFiles <= 0 {
		return fmt.Errorf("MAX_UPLOAD_FILES must be positive")
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("ALLOWED_EXTENSIONS must name at least one extension")
	}
	if c.DefaultExpiryDays < 1 || c.MaxExpiryDays < 1 {
		return fmt.Errorf("expiry day settings must be at least 1")
	}
	if c.DefaultExpiryDays > c.MaxExpiryDays {
		return fmt.Errorf("DEFAULT_EXPIRY_DAYS cannot exceed MAX_EXPIRY_DAYS")
	}
	return nil
}
