package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quickdeploy/quickdeploy/internal/repository"
	"github.com/quickdeploy/quickdeploy/internal/service/ingest"
	"github.com/quickdeploy/quickdeploy/internal/service/lifecycle"
	"github.com/quickdeploy/quickdeploy/internal/service/resolve"
	"github.com/quickdeploy/quickdeploy/internal/service/stats"
	"github.com/quickdeploy/quickdeploy/internal/storage"
	"github.com/quickdeploy/quickdeploy/internal/ws"
	"github.com/quickdeploy/quickdeploy/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	cfg       config.APIConfig
	ingest    *ingest.Service
	lifecycle *lifecycle.Service
	resolver  *resolve.Service
	stats     *stats.Service
	repo      repository.DeploymentRepository
	store     storage.Store
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitUpload    = 30
	rateLimitMutation  = 120
	rateLimitRead      = 240
	rateLimitStatic    = 600
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, cfg config.APIConfig, ingestSvc *ingest.Service, lifecycleSvc *lifecycle.Service, resolver *resolve.Service, statsSvc *stats.Service, repo repository.DeploymentRepository, store storage.Store, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		cfg:       cfg,
		ingest:    ingestSvc,
		lifecycle: lifecycleSvc,
		resolver:  resolver,
		stats:     statsSvc,
		repo:      repo,
		store:     store,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/api/upload", r.audit("upload", r.withRateLimit("upload", rateLimitUpload, rateWindowDefault, r.handleUpload)))
	r.mux.HandleFunc("/api/upload-zip", r.audit("upload_zip", r.withRateLimit("upload_zip", rateLimitUpload, rateWindowDefault, r.handleUploadZip)))
	r.mux.HandleFunc("/api/import/github", r.audit("import_github", r.handleImportGitHub))
	r.mux.HandleFunc("/api/deployments", r.audit("deployments", r.withRateLimit("deployments", rateLimitRead, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/api/deployments/", r.audit("deployment", r.withRateLimit("deployment", rateLimitMutation, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/api/cleanup", r.audit("cleanup", r.withRateLimit("cleanup", rateLimitMutation, rateWindowDefault, r.handleCleanup)))
	r.mux.HandleFunc("/api/stats", r.audit("stats", r.withRateLimit("stats", rateLimitRead, rateWindowDefault, r.handleStats)))
	r.mux.HandleFunc("/api/health", r.audit("health", r.handleHealth))
	r.mux.HandleFunc("/static/", r.audit("static", r.withRateLimit("static", rateLimitStatic, rateWindowDefault, r.handleStatic)))
	r.mux.HandleFunc("/ws/events", r.audit("events", r.withRateLimit("events", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))
	r.mux.Handle("/metrics", promhttp.Handler())
}

// writeServiceError maps service failures to HTTP statuses: validation
// errors to 400, unknown deployments to 404, expired content to 410,
// everything else to 500.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	switch {
	case ingest.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "deployment not found")
	case errors.Is(err, resolve.ErrExpired):
		writeError(w, http.StatusGone, "deployment has expired")
	default:
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"

	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.store != nil {
		if err := r.store.Healthy(ctx); err != nil {
			status = "degraded"
			components["storage"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["storage"] = map[string]any{"status": "up"}
		}
	}

	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed not available")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(client)
	go func() {
		defer func() {
			r.hub.Unregister(client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
