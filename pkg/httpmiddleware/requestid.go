package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// maxRequestIDLen caps how much of a client-supplied X-Request-ID is
// trusted before a fresh one is generated instead.
const maxRequestIDLen = 128

// RequestIDFromContext returns the request id placed in the context by
// RequestID, or "" when the middleware is not in the chain.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID tags every request with an identifier for log correlation.
// A well-formed incoming X-Request-ID is propagated as-is so ids survive
// proxy hops; anything else is replaced with a fresh UUID. The id is
// echoed on the response header and stored in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if !usableRequestID(id) {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// usableRequestID accepts non-empty printable-ASCII ids up to
// maxRequestIDLen bytes. Control bytes and high bytes would corrupt log
// lines and response headers.
func usableRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, b := range []byte(id) {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}
