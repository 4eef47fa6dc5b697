package middleware

import (
	"net/http"
	"time"

	"covenant/pkg/requestcontext"
)

// RequestTime captures the current time at the start of the request so every
// timestamp stamped during one request (createdAt, publishedAt, snapshot
// generation time) agrees.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
