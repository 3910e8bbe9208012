package httpx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/quickdeploy/quickdeploy/internal/repository/memory"
	"github.com/quickdeploy/quickdeploy/internal/service/ingest"
	"github.com/quickdeploy/quickdeploy/internal/service/lifecycle"
	"github.com/quickdeploy/quickdeploy/internal/service/resolve"
	"github.com/quickdeploy/quickdeploy/internal/service/stats"
	"github.com/quickdeploy/quickdeploy/internal/storage"
	"github.com/quickdeploy/quickdeploy/internal/ws"
	"github.com/quickdeploy/quickdeploy/pkg/config"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	cfg := config.APIConfig{
		BaseURL:           "http://localhost:4000",
		StorageBackend:    config.StorageFilesystem,
		MaxFileSizeBytes:  1 << 20,
		MaxUploadBytes:    4 << 20,
		MaxUploadFiles:    20,
		AllowedExtensions: config.ParseExtensions(".html,.css,.js,.png,.txt"),
		DefaultExpiryDays: 7,
		MaxExpiryDays:     30,
		OrphanGracePeriod: 24 * time.Hour,
		MetadataCacheSize: 64,
		MetadataCacheTTL:  time.Minute,
		StatsCacheTTL:     time.Second,
	}
	repo := memory.New()
	store, err := storage.NewFilesystemStore(afero.NewMemMapFs(), "/deployments")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub()

	metadataCache := resolve.NewMetadataCache(cfg.MetadataCacheSize, cfg.MetadataCacheTTL)
	statsSvc := stats.New(repo, cfg.StatsCacheTTL, logger)
	ingestSvc := ingest.New(repo, store, logger, cfg, hub, metadataCache, statsSvc)
	lifecycleSvc := lifecycle.New(repo, store, logger, cfg, hub, metadataCache, statsSvc)
	resolver := resolve.New(repo, store, metadataCache, logger)

	healthy := func(context.Context) error { return nil }
	router := NewRouter(logger, cfg, ingestSvc, lifecycleSvc, resolver, statsSvc, repo, store, hub, nil, healthy)
	t.Cleanup(router.Close)
	return router
}

// multipartUpload builds a POST /api/upload body with the given form fields
// and files.
func multipartUpload(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %q: %v", key, err)
		}
	}
	for name, content := range files {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file %q: %v", name, err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file %q: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doRequest(t *testing.T, router *Router, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func uploadSite(t *testing.T, router *Router, name string, files map[string]string) string {
	t.Helper()
	body, contentType := multipartUpload(t, map[string]string{"name": name}, files)
	recorder := doRequest(t, router, http.MethodPost, "/api/upload", contentType, body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	id, _ := payload["deploymentId"].(string)
	if id == "" {
		t.Fatalf("upload response missing deploymentId: %v", payload)
	}
	return id
}

func TestUploadThenServeStatic(t *testing.T) {
	router := testRouter(t)
	id := uploadSite(t, router, "My Site", map[string]string{
		"index.html": "<h1>hello</h1>",
		"app.css":    "body{}",
	})

	recorder := doRequest(t, router, http.MethodGet, "/static/"+id+"/", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("static root returned %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != "<h1>hello</h1>" {
		t.Fatalf("unexpected body: %q", recorder.Body.String())
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "text/html" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	recorder = doRequest(t, router, http.MethodGet, "/static/"+id+"/app.css", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("static file returned %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "text/css" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	recorder = doRequest(t, router, http.MethodGet, "/static/"+id+"/missing.js", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("missing file returned %d", recorder.Code)
	}
}

func TestUploadValidationFailures(t *testing.T) {
	router := testRouter(t)

	body, contentType := multipartUpload(t, map[string]string{"name": "bad/name"}, map[string]string{"index.html": "x"})
	recorder := doRequest(t, router, http.MethodPost, "/api/upload", contentType, body)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("invalid name returned %d", recorder.Code)
	}

	body, contentType = multipartUpload(t, map[string]string{"name": "Ok Name"}, nil)
	recorder = doRequest(t, router, http.MethodPost, "/api/upload", contentType, body)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("empty file set returned %d", recorder.Code)
	}

	body, contentType = multipartUpload(t, map[string]string{"name": "Ok Name"}, map[string]string{"run.exe": "MZ"})
	recorder = doRequest(t, router, http.MethodPost, "/api/upload", contentType, body)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("disallowed extension returned %d", recorder.Code)
	}

	recorder = doRequest(t, router, http.MethodGet, "/api/upload", "", nil)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET upload returned %d", recorder.Code)
	}
}

func TestUploadZip(t *testing.T) {
	router := testRouter(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("name", "Zip Site"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := writer.CreateFormFile("file", "site.zip")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(zipPayload(t, map[string]string{"index.html": "<h1>zip</h1>"})); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	recorder := doRequest(t, router, http.MethodPost, "/api/upload-zip", writer.FormDataContentType(), &buf)
	if recorder.Code != http.StatusOK {
		t.Fatalf("upload-zip returned %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	id, _ := payload["deploymentId"].(string)

	recorder = doRequest(t, router, http.MethodGet, "/static/"+id+"/index.html", "", nil)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "<h1>zip</h1>" {
		t.Fatalf("zip content not served: %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestDeploymentListAndDetail(t *testing.T) {
	router := testRouter(t)
	id := uploadSite(t, router, "Listed Site", map[string]string{"index.html": "x"})

	recorder := doRequest(t, router, http.MethodGet, "/api/deployments", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list returned %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	deployments, _ := payload["deployments"].([]any)
	if len(deployments) != 1 {
		t.Fatalf("expected 1 deployment, got %d", len(deployments))
	}

	recorder = doRequest(t, router, http.MethodGet, "/api/deployments/"+id, "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("detail returned %d", recorder.Code)
	}
	payload = decodeJSON(t, recorder)
	deployment, _ := payload["deployment"].(map[string]any)
	if deployment["name"] != "Listed Site" || deployment["status"] != "active" {
		t.Fatalf("unexpected detail payload: %v", deployment)
	}
	files, _ := payload["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	recorder = doRequest(t, router, http.MethodGet, "/api/deployments/nonexistent", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("unknown deployment returned %d", recorder.Code)
	}
}

func TestRenewEndpoint(t *testing.T) {
	router := testRouter(t)
	id := uploadSite(t, router, "Renewable", map[string]string{"index.html": "x"})

	recorder := doRequest(t, router, http.MethodPost, "/api/deployments/"+id+"/renew", "application/json", strings.NewReader(`{"days": 14}`))
	if recorder.Code != http.StatusOK {
		t.Fatalf("renew returned %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	newExpiry, _ := payload["newExpiry"].(string)
	parsed, err := time.Parse(time.RFC3339, newExpiry)
	if err != nil {
		t.Fatalf("newExpiry not RFC3339: %q", newExpiry)
	}
	if until := time.Until(parsed); until < 13*24*time.Hour || until > 15*24*time.Hour {
		t.Fatalf("expected expiry about 14 days out, got %v", until)
	}

	recorder = doRequest(t, router, http.MethodPost, "/api/deployments/"+id+"/renew", "application/json", strings.NewReader("not json"))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("bad body returned %d", recorder.Code)
	}
}

func TestCloneEndpoint(t *testing.T) {
	router := testRouter(t)
	id := uploadSite(t, router, "Original", map[string]string{"index.html": "<h1>v1</h1>"})

	recorder := doRequest(t, router, http.MethodPost, "/api/deployments/"+id+"/clone", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("clone returned %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	cloneID, _ := payload["newId"].(string)
	if cloneID == "" || cloneID == id {
		t.Fatalf("unexpected clone id %q", cloneID)
	}

	recorder = doRequest(t, router, http.MethodGet, "/static/"+cloneID+"/index.html", "", nil)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "<h1>v1</h1>" {
		t.Fatalf("clone content not served: %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestDeleteEndpoint(t *testing.T) {
	router := testRouter(t)
	id := uploadSite(t, router, "Doomed", map[string]string{"index.html": "x"})

	recorder := doRequest(t, router, http.MethodDelete, "/api/deployments/"+id, "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete returned %d", recorder.Code)
	}

	// Deleted deployments stop resolving even though the metadata row stays.
	recorder = doRequest(t, router, http.MethodGet, "/static/"+id+"/index.html", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("static after delete returned %d", recorder.Code)
	}

	recorder = doRequest(t, router, http.MethodDelete, "/api/deployments/"+id, "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("second delete returned %d", recorder.Code)
	}
}

func TestDownloadEndpoint(t *testing.T) {
	router := testRouter(t)
	id := uploadSite(t, router, "Exported", map[string]string{"index.html": "x", "app.js": "y"})

	recorder := doRequest(t, router, http.MethodGet, "/api/deployments/"+id+"/download", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("download returned %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("unexpected content type %q", ct)
	}
	names := zipEntryNames(t, recorder.Body.Bytes())
	if len(names) != 2 || !names["index.html"] || !names["app.js"] {
		t.Fatalf("unexpected archive entries: %v", names)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	router := testRouter(t)

	recorder := doRequest(t, router, http.MethodPost, "/api/cleanup", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("cleanup returned %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if processed, ok := payload["processed"].(float64); !ok || processed != 0 {
		t.Fatalf("expected 0 processed, got %v", payload["processed"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := testRouter(t)
	uploadSite(t, router, "Counted", map[string]string{"index.html": "hello"})

	recorder := doRequest(t, router, http.MethodGet, "/api/stats", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("stats returned %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if active, _ := payload["activeDeployments"].(float64); active != 1 {
		t.Fatalf("expected 1 active deployment, got %v", payload["activeDeployments"])
	}
	if size, _ := payload["totalSizeBytes"].(float64); size != float64(len("hello")) {
		t.Fatalf("expected %d bytes, got %v", len("hello"), payload["totalSizeBytes"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)

	recorder := doRequest(t, router, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("health returned %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
}

func TestGitHubImportNotImplemented(t *testing.T) {
	router := testRouter(t)
	recorder := doRequest(t, router, http.MethodPost, "/api/import/github", "application/json", strings.NewReader(`{"repoUrl":"https://github.com/x/y"}`))
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("github import returned %d", recorder.Code)
	}
}

func zipPayload(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %q: %v", name, err)
		}
		if _, err := entry.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %q: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func zipEntryNames(t *testing.T, payload []byte) map[string]bool {
	t.Helper()
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	names := make(map[string]bool, len(reader.File))
	for _, entry := range reader.File {
		names[entry.Name] = true
	}
	return names
}

func TestRateLimitHeadersPresent(t *testing.T) {
	router := testRouter(t)
	recorder := doRequest(t, router, http.MethodGet, "/api/deployments", "", nil)
	if recorder.Header().Get("X-RateLimit-Limit") == "" {
		t.Fatal("expected X-RateLimit-Limit header")
	}
	if recorder.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatal("expected X-RateLimit-Remaining header")
	}
}
