package middleware

import (
	"fmt"
	"log"
	"net/http"
	"time"
)

// Timing returns a middleware that logs request timing and adds Server-Timing headers.
// This enables performance monitoring in browser DevTools and server logs.
func Timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Handle the request
		next.ServeHTTP(wrapped, r)

		// Calculate duration
		duration := time.Since(start)

		// Add Server-Timing header for browser DevTools
		w.Header().Set("Server-Timing", fmt.Sprintf("total;dur=%.2f", float64(duration.Nanoseconds())/1e6))

		// Log slow requests (>500ms)
		if duration > 500*time.Millisecond {
			log.Printf("[SLOW] %s %s took %v (status: %d)",
				r.Method, r.URL.Path, duration, wrapped.statusCode)
		}
	})
}

// statusResponseWriter wraps http.ResponseWriter to capture the status code
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
