package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the id attached to each request log line.
const RequestIDHeader = "X-Request-Id"

const maxRequestIDLength = 128

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

type requestIDKey struct{}

// assignRequestID keeps a well formed client id and mints a fresh one otherwise.
func assignRequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if len(id) > maxRequestIDLength || !requestIDPattern.MatchString(id) {
		return uuid.NewString()
	}
	return id
}

// GetRequestID returns the id the logging middleware assigned to the request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// wrappedWriter captures the status written by the wrapped handler.
type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrappedWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.statusCode = statusCode
}

func (w *wrappedWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func logging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := assignRequestID(r)
		w.Header().Set(RequestIDHeader, requestID)

		wrapped := &wrappedWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		attrs := []any{
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("host", r.Host),
			slog.Int64("duration_ns", time.Since(start).Nanoseconds()),
			slog.Int("status", wrapped.statusCode),
			slog.String("remote_addr", r.RemoteAddr),
		}

		// Redirects from the guard are routine, server errors are not.
		if wrapped.statusCode >= http.StatusInternalServerError {
			logger.Error("Request handled", attrs...)
			return
		}
		logger.Info("Request handled", attrs...)
	})
}

// Logging writes one structured line per request.
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return logging(logger, next)
	}
}
