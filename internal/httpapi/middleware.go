package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/auth"
	"github.com/yourorg/travelcore/internal/platform/logging"
)

const correlationHeader = "X-Correlation-Id"

// Correlation accepts the caller's X-Correlation-Id or mints one, and echoes it back.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(correlationHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithCorrelationID(r.Context(), id)))
	})
}

// RequestLogger writes one line per request once the handler returns.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log := logging.WithCorrelation(logger, logging.CorrelationIDFromContext(r.Context()), "")
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remoteAddr", r.RemoteAddr),
			}
			switch {
			case ww.Status() >= 500:
				log.Error("request", fields...)
			case ww.Status() >= 400:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
		})
	}
}

// requestLogger is the handler-scoped logger carrying correlation and actor ids.
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	actorID := ""
	if a, ok := auth.ActorFromContext(r.Context()); ok {
		actorID = a.ID
	}
	return logging.WithCorrelation(s.logger, logging.CorrelationIDFromContext(r.Context()), actorID)
}
