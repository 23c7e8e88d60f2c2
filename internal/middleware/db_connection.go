package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

type dbConnKey struct{}

// WithDBConnection acquires a pooled connection for the request and
// releases it once the handler returns.
func WithDBConnection(logger *slog.Logger, pool *pgxpool.Pool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := pool.Acquire(r.Context())
			if err != nil {
				logger.Error("Failed to acquire database connection from pool", slog.Any("error", err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "We ran into an issue connecting to our database",
				})
				return
			}
			defer conn.Release()

			ctx := context.WithValue(r.Context(), dbConnKey{}, conn)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDBConnFromContext retrieves the connection stored by WithDBConnection.
func GetDBConnFromContext(ctx context.Context) (*pgxpool.Conn, error) {
	conn, ok := ctx.Value(dbConnKey{}).(*pgxpool.Conn)
	if !ok || conn == nil {
		return nil, errors.New("database connection not found in context")
	}
	return conn, nil
}
