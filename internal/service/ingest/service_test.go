package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/quickdeploy/quickdeploy/internal/domain"
	"github.com/quickdeploy/quickdeploy/internal/repository/memory"
	"github.com/quickdeploy/quickdeploy/internal/storage"
	"github.com/quickdeploy/quickdeploy/pkg/config"
)

func testConfig() config.APIConfig {
	return config.APIConfig{
		BaseURL:           "http://localhost:4000",
		MaxFileSizeBytes:  1 << 20,
		MaxUploadBytes:    4 << 20,
		MaxUploadFiles:    10,
		AllowedExtensions: config.ParseExtensions(".html,.css,.js,.png,.txt"),
		DefaultExpiryDays: 7,
		MaxExpiryDays:     30,
		OrphanGracePeriod: 24 * time.Hour,
	}
}

func testStore(t *testing.T) *storage.FilesystemStore {
	t.Helper()
	store, err := storage.NewFilesystemStore(afero.NewMemMapFs(), "/deployments")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func entry(path, content string) FileEntry {
	return FileEntry{
		Path:         path,
		OriginalName: path,
		Size:         int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func newTestService(t *testing.T) (*Service, *memory.Repository, *storage.FilesystemStore) {
	t.Helper()
	repo := memory.New()
	store := testStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(repo, store, logger, testConfig(), nil)
	return svc, repo, store
}

func TestIngestPersistsFilesAndCounters(t *testing.T) {
	svc, repo, store := newTestService(t)

	result, err := svc.Ingest(context.Background(), Input{Name: "Demo", ExpiryDays: 1}, []FileEntry{
		entry("index.html", "<h1>hi</h1>"),
		entry("style.css", "body{}"),
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if result.FileCount != 2 {
		t.Fatalf("expected fileCount 2, got %d", result.FileCount)
	}
	wantBytes := int64(len("<h1>hi</h1>") + len("body{}"))
	if result.TotalSizeBytes != wantBytes {
		t.Fatalf("expected totalSize %d, got %d", wantBytes, result.TotalSizeBytes)
	}

	deployment, err := repo.GetDeploymentByID(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("deployment not persisted: %v", err)
	}
	if deployment.FileCount != 2 || deployment.TotalSizeBytes != wantBytes {
		t.Fatalf("counters mismatch: files=%d bytes=%d", deployment.FileCount, deployment.TotalSizeBytes)
	}
	files, err := repo.ListDeploymentFiles(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 file rows, got %d", len(files))
	}
	for _, file := range files {
		data, err := store.Get(context.Background(), file.StorageKey)
		if err != nil {
			t.Fatalf("stored bytes missing for %s: %v", file.FilePath, err)
		}
		if int64(len(data)) != file.SizeBytes {
			t.Fatalf("size mismatch for %s", file.FilePath)
		}
	}
}

func TestIngestDerivesURLsFromBase(t *testing.T) {
	svc, _, _ := newTestService(t)

	result, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, []FileEntry{entry("index.html", "x")})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if want := "http://localhost:4000/static/" + result.ID + "/"; result.URL != want {
		t.Fatalf("expected url %q, got %q", want, result.URL)
	}
	if want := "http://localhost:4000/admin/deployments/" + result.ID; result.AdminURL != want {
		t.Fatalf("expected admin url %q, got %q", want, result.AdminURL)
	}
}

func TestIngestRejectsInvalidName(t *testing.T) {
	svc, repo, store := newTestService(t)

	cases := []string{"", "bad/name", strings.Repeat("x", 101), "semi;colon"}
	for _, name := range cases {
		_, err := svc.Ingest(context.Background(), Input{Name: name}, []FileEntry{entry("index.html", "x")})
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}

	ids, _ := repo.ListDeploymentIDs(context.Background())
	if len(ids) != 0 {
		t.Fatalf("expected no deployment rows, got %d", len(ids))
	}
	namespaces, _ := store.ListNamespaces(context.Background())
	if len(namespaces) != 0 {
		t.Fatalf("expected no stored bytes, got %d namespaces", len(namespaces))
	}
}

func TestIngestRejectsEmptyFileSet(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, nil)
	if !errors.Is(err, ErrNoFiles) {
		t.Fatalf("expected ErrNoFiles, got %v", err)
	}
}

func TestIngestRejectsDisallowedExtension(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, []FileEntry{entry("app.exe", "MZ")})
	if !errors.Is(err, ErrExtensionNotAllowed) {
		t.Fatalf("expected ErrExtensionNotAllowed, got %v", err)
	}
}

func TestIngestRejectsTraversalPath(t *testing.T) {
	svc, _, store := newTestService(t)
	_, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, []FileEntry{entry("../escape.html", "x")})
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	namespaces, _ := store.ListNamespaces(context.Background())
	if len(namespaces) != 0 {
		t.Fatalf("expected no stored bytes after rejection")
	}
}

func TestIngestRejectsDuplicatePaths(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, []FileEntry{
		entry("index.html", "a"),
		entry("./index.html", "b"),
	})
	if !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}
}

func TestIngestRejectsOversizedFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	big := FileEntry{
		Path:         "big.txt",
		OriginalName: "big.txt",
		Size:         2 << 20,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("irrelevant")), nil
		},
	}
	_, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, []FileEntry{big})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestIngestClampsExpiryDays(t *testing.T) {
	svc, repo, _ := newTestService(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	cases := []struct {
		requested int
		wantDays  int
	}{
		{0, 7},
		{3, 3},
		{80, 30},
		{-5, 7},
	}
	for _, tc := range cases {
		result, err := svc.Ingest(context.Background(), Input{Name: "Demo", ExpiryDays: tc.requested}, []FileEntry{entry("index.html", "x")})
		if err != nil {
			t.Fatalf("Ingest returned error: %v", err)
		}
		deployment, err := repo.GetDeploymentByID(context.Background(), result.ID)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		want := fixed.AddDate(0, 0, tc.wantDays)
		if !deployment.ExpiresAt.Equal(want) {
			t.Fatalf("requested %d days: expected expiry %v, got %v", tc.requested, want, deployment.ExpiresAt)
		}
	}
}

func TestIngestRollsBackBytesOnPersistFailure(t *testing.T) {
	repo := &failingRepo{Repository: memory.New()}
	store := testStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(repo, store, logger, testConfig(), nil)

	_, err := svc.Ingest(context.Background(), Input{Name: "Demo"}, []FileEntry{entry("index.html", "x")})
	if err == nil {
		t.Fatal("expected persistence error")
	}
	namespaces, _ := store.ListNamespaces(context.Background())
	if len(namespaces) != 0 {
		t.Fatalf("expected uploaded bytes to be removed, found %d namespaces", len(namespaces))
	}
}

type failingRepo struct {
	*memory.Repository
}

func (r *failingRepo) CreateDeploymentWithFiles(context.Context, *domain.Deployment, []domain.DeploymentFile) error {
	return errors.New("database down")
}
