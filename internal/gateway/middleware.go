package gateway

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/soyeahso/closer/internal/logging"
)

// loggingMiddleware writes one debug line per request. Requests that fail
// with a server error are logged at warn.
func loggingMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := log.Debug()
			if status >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			ev.Str("requestId", middleware.GetReqID(r.Context())).
				Str("method", r.Method).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).
				Int("status", status).Int("bytes", ww.BytesWritten()).Dur("duration", time.Since(start)).
				Msg("http")
		})
	}
}

// echoRequestID returns the request ID in the response headers.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Methods": strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", "),
	"Access-Control-Allow-Headers": "Content-Type, Authorization, " + middleware.RequestIDHeader,
	"Access-Control-Max-Age":       "86400",
}

// corsMiddleware lets listed browser origins call the API. Preflight
// requests are answered here.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && isOriginAllowed(origin, allowed) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				for k, v := range corsHeaders {
					h.Set(k, v)
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireAuth checks bearer credentials. Failures count against the
// caller's host in limiter.
func requireAuth(auth ResolvedAuth, limiter *authRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(r.RemoteAddr) {
				writeError(w, http.StatusTooManyRequests, ErrorShape{
					Code:      CodeUnauthorized,
					Message:   "too many failed attempts",
					Retryable: true,
				})
				return
			}
			if res := Authorize(auth, requestAuth(auth, r)); !res.OK {
				limiter.recordFailure(r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, ErrorShape{Code: CodeUnauthorized, Message: res.Reason})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isOriginAllowed matches origin against the list; "*" allows any. An
// empty list allows none.
func isOriginAllowed(origin string, allowed []string) bool {
	return slices.ContainsFunc(allowed, func(a string) bool { return a == "*" || a == origin })
}
