package middleware

import (
	"context"
	"net/http"
	"time"
)

// MaxBodyBytes bounds JSON request bodies. The largest legitimate body is a
// 100 item bulk action.
const MaxBodyBytes = 64 << 10

// LimitBodyMiddleware caps the request body size
func LimitBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// TimeoutMiddleware puts a deadline on the request context. Storage calls observe it
// and the engine reports an expired deadline as Canceled.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
