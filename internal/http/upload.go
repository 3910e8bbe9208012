package httpx

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/quickdeploy/quickdeploy/internal/service/ingest"
)

// multipartMemoryLimit bounds how much of a multipart body is buffered in
// memory before spilling to temp files.
const multipartMemoryLimit = 32 << 20

func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes+multipartMemoryLimit)
	if err := req.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		_ = req.MultipartForm.RemoveAll()
	}()

	in := ingestInput(req)
	headers := req.MultipartForm.File["files"]
	entries := make([]ingest.FileEntry, 0, len(headers))
	for _, header := range headers {
		header := header
		entries = append(entries, ingest.FileEntry{
			Path:         header.Filename,
			OriginalName: header.Filename,
			Size:         header.Size,
			Open: func() (io.ReadCloser, error) {
				return header.Open()
			},
		})
	}

	result, err := r.ingest.Ingest(req.Context(), in, entries)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeUploadResult(w, result)
}

func (r *Router) handleUploadZip(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxUploadBytes+multipartMemoryLimit)
	if err := req.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		_ = req.MultipartForm.RemoveAll()
	}()

	file, _, err := req.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "zip file is required")
		return
	}
	defer file.Close()

	archive, err := io.ReadAll(io.LimitReader(file, r.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read zip file")
		return
	}
	if int64(len(archive)) > r.cfg.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("archive exceeds the maximum upload size of %d bytes", r.cfg.MaxUploadBytes))
		return
	}

	result, err := r.ingest.IngestArchive(req.Context(), ingestInput(req), archive)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeUploadResult(w, result)
}

// handleImportGitHub is a stub: import from a repository URL is not
// implemented yet.
func (r *Router) handleImportGitHub(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	writeError(w, http.StatusNotImplemented, "GitHub import is not implemented")
}

func ingestInput(req *http.Request) ingest.Input {
	days, _ := strconv.Atoi(req.FormValue("expiryDays"))
	return ingest.Input{
		Name:        strings.TrimSpace(req.FormValue("name")),
		Description: strings.TrimSpace(req.FormValue("description")),
		ExpiryDays:  days,
	}
}

func writeUploadResult(w http.ResponseWriter, result *ingest.Result) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"deploymentId": result.ID,
		"url":          result.URL,
		"adminUrl":     result.AdminURL,
		"fileCount":    result.FileCount,
		"totalSize":    result.TotalSizeBytes,
	})
}
