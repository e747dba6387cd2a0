// Package security holds edge middleware: a probe filter for scanner
// traffic and a request body cap.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Config holds the configuration for security middleware
type Config struct {
	FilterEnabled bool
	MaxBodySizeMB int
}

type matchKind int

const (
	prefix matchKind = iota
	contains
)

type rule struct {
	kind    matchKind
	pattern string
}

// rules match against the lowercased path and its decoded form.
var rules = []rule{
	{prefix, "/.php"},
	{prefix, "/wp-"},
	{prefix, "/.git/"},
	{prefix, "/.env"},
	{prefix, "/.aws/"},
	{prefix, "/web-inf/"},
	{prefix, "/cgi-bin/"},
	{prefix, "/admin/"},
	{prefix, "/phpmyadmin"},
	{prefix, "/phpinfo"},
	{prefix, "/shell"},
	{prefix, "/config."},
	{prefix, "/.htaccess"},
	{prefix, "/.htpasswd"},
	{prefix, "/server-status"},
	{prefix, "/xmlrpc.php"},
	{contains, "../"},
	{contains, "..\\"},
	{contains, "..%2f"},
	{contains, "..%5c"},
	{contains, "%2e%2e"},
	{contains, "%00"},
	{contains, "\x00"},
}

var exempt = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

func blocked(path string) bool {
	for _, r := range rules {
		switch r.kind {
		case prefix:
			if strings.HasPrefix(path, r.pattern) {
				return true
			}
		case contains:
			if strings.Contains(path, r.pattern) {
				return true
			}
		}
	}
	return false
}

// FilterMiddleware rejects scanner probes and traversal attempts with a
// generic 400. Probes are checked on the path as received and once decoded.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.URL.EscapedPath()
			candidates := []string{strings.ToLower(r.URL.Path), strings.ToLower(raw)}
			if decoded, err := url.PathUnescape(raw); err == nil {
				candidates = append(candidates, strings.ToLower(decoded))
			}
			for _, c := range candidates {
				if blocked(c) {
					writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySizeMiddleware caps request bodies at maxSizeMB megabytes.
// Requests announcing a larger Content-Length are refused before the
// handler runs; others fail on read once the cap is crossed.
func MaxBodySizeMiddleware(maxSizeMB int) func(http.Handler) http.Handler {
	maxBytes := int64(maxSizeMB) << 20
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
