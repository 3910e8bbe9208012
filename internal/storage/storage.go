package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotExist indicates the requested object is absent from the store.
var ErrNotExist = errors.New("storage: object does not exist")

// ErrUnsafePath indicates a relative path that would escape its namespace.
var ErrUnsafePath = errors.New("storage: unsafe path")

// Namespace describes one per-deployment key prefix in the store.
type Namespace struct {
	ID      string
	ModTime time.Time
}

// Store persists deployment file bytes under per-deployment namespaces.
// Keys have the form "<deploymentID>/<relative/path>".
type Store interface {
	// Put writes the object and returns the number of bytes stored.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Get reads the whole object. Returns ErrNotExist on miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Copy duplicates an object within the store.
	Copy(ctx context.Context, srcKey, dstKey string) error
	// RemoveNamespace deletes every object under the deployment prefix.
	// Removing an absent namespace is not an error.
	RemoveNamespace(ctx context.Context, deploymentID string) error
	// ListNamespaces enumerates deployment prefixes present in the store.
	ListNamespaces(ctx context.Context) ([]Namespace, error)
	// Healthy probes the backing medium.
	Healthy(ctx context.Context) error
}

// Key builds the object key for a file within a deployment namespace.
func Key(deploymentID, filePath string) string {
	return deploymentID + "/" + filePath
}

// CleanRelPath normalizes a namespace-relative path and rejects anything
// that would resolve outside the namespace: absolute paths, parent-directory
// traversal, and Windows-style separators or volume prefixes.
func CleanRelPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrUnsafePath
	}
	if strings.ContainsAny(p, "\\\x00") || strings.Contains(p, ":") {
		return "", ErrUnsafePath
	}
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrUnsafePath
	}
	if path.IsAbs(cleaned) {
		return "", ErrUnsafePath
	}
	return cleaned, nil
}
