package httpx

import (
	"net/http"
	"strconv"
	"strings"
)

// handleStatic serves stored deployment content: /static/{id}/{path...}.
func (r *Router) handleStatic(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		r.methodNotAllowed(w)
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/static/")
	deploymentID, requestedPath, _ := strings.Cut(trimmed, "/")
	if deploymentID == "" {
		r.notFound(w)
		return
	}

	content, err := r.resolver.Resolve(req.Context(), deploymentID, requestedPath)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(content.Bytes)))
	if req.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(content.Bytes)
}
