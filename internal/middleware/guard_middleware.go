package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

type pageKey struct{}

type credentialKey struct{}

// RefreshPath is advertised to clients whose permissions could not be verified.
const RefreshPath = "/api/session/refresh"

// TokenStores hands out the token store of a request.
type TokenStores interface {
	For(w http.ResponseWriter, r *http.Request) *credential.Store
}

// ResourceResolver picks the resource a request is about.
type ResourceResolver func(r *http.Request) (permissions.Resource, bool)

// Static always resolves to the same resource.
func Static(resource permissions.Resource) ResourceResolver {
	return func(*http.Request) (permissions.Resource, bool) { return resource, true }
}

// FromPath resolves the resource from a path wildcard such as {resource}.
func FromPath(name string) ResourceResolver {
	return func(r *http.Request) (permissions.Resource, bool) {
		resource, err := permissions.ParseResource(r.PathValue(name))
		return resource, err == nil
	}
}

// GetPage returns the guard page stored by RequireResource.
func GetPage(ctx context.Context) (*guard.Page, bool) {
	p, ok := ctx.Value(pageKey{}).(*guard.Page)
	return p, ok
}

// GetCredential returns the credential stored by RequireSession or RequireResource.
func GetCredential(ctx context.Context) (credential.Credential, bool) {
	c, ok := ctx.Value(credentialKey{}).(credential.Credential)
	return c, ok
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// RequireSession rejects requests without a valid credential. It is meant
// for API endpoints, pages go through RequireResource.
func RequireSession(g *guard.Guard, stores TokenStores) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := stores.For(w, r).ReadCredential()
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error":   "Please sign in to continue",
					"sign_in": g.SignInURL(r.Header.Get("Referer")),
				})
				return
			}

			ctx := context.WithValue(r.Context(), credentialKey{}, cred)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireResource runs the page guard. Unauthenticated callers are
// redirected to sign in; authenticated callers without access get a denial
// they can read, including the role they currently hold.
func RequireResource(g *guard.Guard, stores TokenStores, resolve ResourceResolver, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource, ok := resolve(r)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": "The page you are looking for does not exist",
				})
				return
			}

			page := g.Open(stores.For(w, r), resource, r.URL.RequestURI())

			switch page.Check(r.Context()) {
			case guard.StateRedirecting:
				http.Redirect(w, r, page.RedirectURL(), http.StatusFound)

			case guard.StateDenied:
				writeJSON(w, http.StatusForbidden, map[string]any{
					"error":    "You do not have access to this page",
					"resource": resource,
					"role":     page.Credential().RoleClaim,
					"home":     policy.HomeEntry.Path,
				})

			case guard.StateUnverified:
				logger.Warn("Permissions could not be verified",
					slog.String("resource", string(resource)),
					slog.String("subject", page.Credential().SubjectID),
					slog.Any("error", page.Err()),
				)
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": "We could not verify your permissions, please try again",
					"retry": RefreshPath,
				})

			case guard.StateAuthorized:
				ctx := context.WithValue(r.Context(), pageKey{}, page)
				ctx = context.WithValue(ctx, credentialKey{}, page.Credential())
				next.ServeHTTP(w, r.WithContext(ctx))

			default:
				logger.Error("Guard stopped in a non terminal state", slog.String("state", string(page.State())))
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error": "We ran into a problem while servicing your request please try again later",
				})
			}
		})
	}
}

// RequireAction runs after RequireResource and additionally demands an
// explicit grant of action on the guarded resource. Unlike page access it
// never fails open.
func RequireAction(registry *policy.Registry, action permissions.Action) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page, ok := GetPage(r.Context())
			if !ok || !registry.Engine(page.Credential()).HasAction(page.Resource(), action) {
				writeJSON(w, http.StatusForbidden, map[string]any{
					"error":  "You do not have access to this page",
					"action": action,
					"home":   policy.HomeEntry.Path,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
