package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/quickdeploy/quickdeploy/internal/storage"
)

// IngestArchive expands a ZIP payload and ingests its entries under one
// deployment namespace. Entries whose path would escape the namespace fail
// the whole upload; directory entries are skipped.
func (s *Service) IngestArchive(ctx context.Context, in Input, archive []byte) (*Result, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	entries := make([]FileEntry, 0, len(reader.File))
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/") {
			continue
		}
		cleaned, err := storage.CleanRelPath(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: archive entry %q", ErrUnsafePath, entry.Name)
		}
		entry := entry
		entries = append(entries, FileEntry{
			Path:         cleaned,
			OriginalName: entry.Name,
			Size:         int64(entry.UncompressedSize64),
			Open: func() (io.ReadCloser, error) {
				return entry.Open()
			},
		})
	}
	return s.Ingest(ctx, in, entries)
}
