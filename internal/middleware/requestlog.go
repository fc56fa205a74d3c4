package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/tunr/backend/internal/logging"
)

// RequestContextMiddleware seeds the log fields every later handler and
// middleware reports. It runs after chi's RequestID and echoes the id back in
// X-Request-Id so client reports can be matched to log lines.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimiddleware.GetReqID(r.Context())
		if id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		ctx := logging.WithRequestAttrs(r.Context(), &logging.RequestAttrs{
			RequestID: id,
			Method:    r.Method,
			Path:      r.URL.Path,
			IP:        logging.ClientIP(r),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs each finished request at debug level, or warn for 5xx.
// Health checks and metrics scrapes are not logged.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/health") || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= 500 {
			level = slog.LevelWarn
		}
		fields := logging.RequestFields(r.Context())
		fields = append(fields,
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
		slog.Log(r.Context(), level, "request", fields...)
	})
}
