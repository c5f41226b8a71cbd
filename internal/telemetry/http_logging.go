package telemetry

import (
	"net/http"
	"time"

	"github.com/DiskTrackTed/transferarr-sub001/internal/logctx"
)

// HTTPLogging writes one structured log line per request, levelled by the
// response status. Runs after RequestID so the line carries the request id.
func HTTPLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		rw := wrapResponseWriter(w)
		next.ServeHTTP(rw, r)

		logger := logctx.LoggerFromContext(ctx).With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(ctx),
		)

		switch {
		case rw.status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request completed")
		case rw.status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request completed")
		default:
			logger.InfoContext(ctx, "http request completed")
		}
	})
}
