package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RequestLogger returns HTTP middleware that logs one structured line per
// request, attaching the global logger to the request context so handlers
// can enrich it via FromContext. Webhook traffic is high-volume and
// uniform, so everything a request produced (dropped notifications,
// decrypt failures) is logged by the handlers themselves; this only
// records the request envelope.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := log.Logger.WithContext(r.Context())

		defer func() {
			logger := FromContext(ctx)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetReqID(ctx)).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Request completed")
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}
