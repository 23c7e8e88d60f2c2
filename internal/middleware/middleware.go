package middleware

import "net/http"

// Middleware wraps a handler with extra behaviour such as logging or the
// page guard.
type Middleware func(http.Handler) http.Handler

// CreateStack composes middleware so that the first one listed is the
// outermost and runs first.
func CreateStack(xs ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(xs) - 1; i >= 0; i-- {
			next = xs[i](next)
		}
		return next
	}
}
