package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FilesystemStore keeps deployment namespaces as directories under a common
// root. The afero abstraction lets tests run against an in-memory fs.
type FilesystemStore struct {
	fs   afero.Fs
	root string
}

// NewFilesystemStore ensures the root directory exists and is accessible.
func NewFilesystemStore(fs afero.Fs, root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FilesystemStore{fs: fs, root: root}, nil
}

var _ Store = (*FilesystemStore)(nil)

// Put writes the object under the root, creating parent directories.
func (s *FilesystemStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	dest, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}
	f, err := s.fs.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create object: %w", err)
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(dest)
		return 0, fmt.Errorf("write object: %w", err)
	}
	return written, nil
}

// Get reads the whole object.
func (s *FilesystemStore) Get(_ context.Context, key string) ([]byte, error) {
	src, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Copy duplicates an object within the store.
func (s *FilesystemStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	_, err = s.Put(ctx, dstKey, strings.NewReader(string(data)))
	return err
}

// RemoveNamespace deletes the deployment directory tree.
func (s *FilesystemStore) RemoveNamespace(_ context.Context, deploymentID string) error {
	dir, err := s.resolve(deploymentID)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove namespace %s: %w", deploymentID, err)
	}
	return nil
}

// ListNamespaces enumerates top-level deployment directories.
func (s *FilesystemStore) ListNamespaces(_ context.Context) ([]Namespace, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	namespaces := make([]Namespace, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		namespaces = append(namespaces, Namespace{ID: entry.Name(), ModTime: entry.ModTime()})
	}
	return namespaces, nil
}

// Healthy probes the root directory.
func (s *FilesystemStore) Healthy(_ context.Context) error {
	info, err := s.fs.Stat(s.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.root)
	}
	return nil
}

// resolve maps a key to an absolute path, refusing root escapes.
func (s *FilesystemStore) resolve(key string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return "", ErrUnsafePath
	}
	return full, nil
}
