package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/sagaclaw/sagaclaw/pkg/api/response"
)

// Timeout returns a middleware that bounds request handling time. A
// request that overruns gets a 504 while the handler finishes in the
// background with a cancelled context.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				response.Error(w,
					http.StatusGatewayTimeout,
					response.ErrCodeGatewayTimeout,
					"Request timeout",
					GetRequestID(r.Context()),
				)
			}
		})
	}
}
