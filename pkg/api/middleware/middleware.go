package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/google/uuid"
)

type ContextKey int

const (
	// RequestIDContextKey is the key used to store the request id in the request context
	RequestIDContextKey ContextKey = iota
)

const RequestIDHeader = "X-Request-ID"

// RequestID returns the id of the request, or "" outside of NewRequestMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// NewRequestMiddleware tags each request with an id, reusing the one sent by
// the caller, and logs it once it is served.
func NewRequestMiddleware(logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, rec.status, time.Since(start), id)
		})
	}
}

// NewCORSMiddleware allows read-only access from any origin.
func NewCORSMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
