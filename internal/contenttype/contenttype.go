// Package contenttype maps file extensions to response content types.
// The table is fixed: unknown extensions always resolve to
// application/octet-stream, never to sniffed types.
package contenttype

import (
	"path"
	"strings"
)

// Fallback is returned for extensions missing from the table.
const Fallback = "application/octet-stream"

var byExtension = map[string]string{
	".html":        "text/html",
	".htm":         "text/html",
	".css":         "text/css",
	".js":          "application/javascript",
	".mjs":         "application/javascript",
	".json":        "application/json",
	".txt":         "text/plain",
	".md":          "text/markdown",
	".xml":         "application/xml",
	".ico":         "image/x-icon",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".svg":         "image/svg+xml",
	".webp":        "image/webp",
	".avif":        "image/avif",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".otf":         "font/otf",
	".eot":         "application/vnd.ms-fontobject",
	".map":         "application/json",
	".webmanifest": "application/manifest+json",
	".pdf":         "application/pdf",
	".mp4":         "video/mp4",
	".webm":        "video/webm",
	".mp3":         "audio/mpeg",
	".wasm":        "application/wasm",
	".zip":         "application/zip",
}

// ByPath returns the content type for the path's extension.
func ByPath(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ct, ok := byExtension[ext]; ok {
		return ct
	}
	return Fallback
}
