// Package logging provides structured HTTP request logging middleware.
package logging

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/polybuilder/polybuilder/internal/auth"
	"github.com/polybuilder/polybuilder/internal/middleware/realip"
)

// quietPaths are probes logged at debug level.
var quietPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware logs one line per request with request_id, method, path,
// status, bytes, duration and client_ip, plus key_id when authenticated.
// 5xx responses log at error, 4xx at warn. The wrapped writer keeps
// http.Hijacker so websocket upgrades pass through.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// auth runs deeper in the chain and derives a new context, so
			// the key is captured through this holder.
			holder := &keyHolder{}
			r = r.WithContext(context.WithValue(r.Context(), holderKey{}, holder))

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				level := slog.LevelInfo
				switch {
				case status >= 500:
					level = slog.LevelError
				case status >= 400:
					level = slog.LevelWarn
				case quietPaths[r.URL.Path]:
					level = slog.LevelDebug
				}

				attrs := []any{
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"client_ip", realip.GetClientIP(r),
				}
				if holder.id != "" {
					attrs = append(attrs, "key_id", holder.id)
				}
				logger.Log(r.Context(), level, "request", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

type holderKey struct{}

type keyHolder struct {
	id string
}

// CaptureKey records the authenticated API key ID for the request log line.
// Mount it after the auth middleware.
func CaptureKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := r.Context().Value(holderKey{}).(*keyHolder); ok {
			h.id = auth.GetKeyIDFromContext(r.Context())
		}
		next.ServeHTTP(w, r)
	})
}
