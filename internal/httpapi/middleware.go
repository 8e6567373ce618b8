package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BrandonDHaskell/turnstile/internal/metrics"
)

// requestLogger logs one line per request and records HTTP metrics under the
// matched route pattern, so path parameters do not explode label cardinality.
func requestLogger(logger *slog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if p := rc.RoutePattern(); p != "" {
					route = p
				}
			}
			dur := time.Since(start)

			m.RecordHTTPRequest(route, r.Method, strconv.Itoa(status), dur.Seconds())
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"from", r.RemoteAddr,
				"dur", dur,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
