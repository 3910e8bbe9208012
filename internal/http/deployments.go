package httpx

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quickdeploy/quickdeploy/internal/domain"
)

type deploymentView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	AdminURL    string    `json:"adminUrl"`
	Status      string    `json:"status"`
	FileCount   int       `json:"fileCount"`
	TotalSize   int64     `json:"totalSize"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type fileView struct {
	Path         string `json:"path"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
}

func viewOf(d domain.Deployment, now time.Time) deploymentView {
	status := d.Status
	if status == domain.StatusActive && d.Expired(now) {
		status = "expired"
	}
	return deploymentView{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		URL:         d.URL,
		AdminURL:    d.AdminURL,
		Status:      status,
		FileCount:   d.FileCount,
		TotalSize:   d.TotalSizeBytes,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	includeDeleted := req.URL.Query().Get("all") == "1"
	deployments, err := r.repo.ListDeployments(req.Context(), includeDeleted)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	now := time.Now().UTC()
	views := make([]deploymentView, 0, len(deployments))
	for _, deployment := range deployments {
		views = append(views, viewOf(deployment, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": views})
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/deployments/")
	parts := strings.Split(trimmed, "/")
	deploymentID := parts[0]
	if deploymentID == "" {
		r.notFound(w)
		return
	}
	switch {
	case len(parts) == 1:
		switch req.Method {
		case http.MethodGet:
			r.handleDeploymentDetail(w, req, deploymentID)
		case http.MethodDelete:
			r.handleDeploymentDelete(w, req, deploymentID)
		default:
			r.methodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "renew":
		r.handleDeploymentRenew(w, req, deploymentID)
	case len(parts) == 2 && parts[1] == "clone":
		r.handleDeploymentClone(w, req, deploymentID)
	case len(parts) == 2 && parts[1] == "download":
		r.handleDeploymentDownload(w, req, deploymentID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleDeploymentDetail(w http.ResponseWriter, req *http.Request, deploymentID string) {
	deployment, err := r.repo.GetDeploymentByID(req.Context(), deploymentID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	files, err := r.repo.ListDeploymentFiles(req.Context(), deploymentID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	fileViews := make([]fileView, 0, len(files))
	for _, file := range files {
		fileViews = append(fileViews, fileView{
			Path:         file.FilePath,
			OriginalName: file.OriginalName,
			Size:         file.SizeBytes,
			MimeType:     file.MimeType,
		})
	}
	payload := map[string]any{
		"deployment": viewOf(*deployment, time.Now().UTC()),
		"files":      fileViews,
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleDeploymentDelete(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if err := r.lifecycle.Delete(req.Context(), deploymentID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (r *Router) handleDeploymentRenew(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	newExpiry, err := r.lifecycle.Renew(req.Context(), deploymentID, payload.Days)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"newExpiry": newExpiry.Format(time.RFC3339),
	})
}

func (r *Router) handleDeploymentClone(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	result, err := r.lifecycle.Clone(req.Context(), deploymentID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"newId":   result.ID,
		"newUrl":  result.URL,
	})
}

// handleDeploymentDownload streams a ZIP export of the stored files.
func (r *Router) handleDeploymentDownload(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deployment, err := r.repo.GetDeploymentByID(req.Context(), deploymentID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if deployment.Status != domain.StatusActive {
		r.notFound(w)
		return
	}
	files, err := r.repo.ListDeploymentFiles(req.Context(), deploymentID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", deployment.Name+".zip"))
	archive := zip.NewWriter(w)
	for _, file := range files {
		data, err := r.store.Get(req.Context(), file.StorageKey)
		if err != nil {
			r.logger.Error("download skipped missing object", "deployment_id", deploymentID, "path", file.FilePath, "error", err)
			continue
		}
		entry, err := archive.Create(file.FilePath)
		if err != nil {
			r.logger.Error("zip entry failed", "deployment_id", deploymentID, "path", file.FilePath, "error", err)
			break
		}
		if _, err := entry.Write(data); err != nil {
			r.logger.Error("zip write failed", "deployment_id", deploymentID, "path", file.FilePath, "error", err)
			break
		}
	}
	if err := archive.Close(); err != nil {
		r.logger.Error("zip close failed", "deployment_id", deploymentID, "error", err)
	}
}

func (r *Router) handleCleanup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	processed, err := r.lifecycle.Sweep(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "processed": processed})
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	aggregate, err := r.stats.Stats(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate)
}
