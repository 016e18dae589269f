package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/sagaclaw/sagaclaw/pkg/api/response"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
)

// Recovery returns a middleware that converts handler panics into 500
// responses instead of tearing down the connection.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("Panic recovered",
						"error", err,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					)

					response.Error(w,
						http.StatusInternalServerError,
						response.ErrCodeInternalServer,
						fmt.Sprintf("Internal server error: %v", err),
						GetRequestID(r.Context()),
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
