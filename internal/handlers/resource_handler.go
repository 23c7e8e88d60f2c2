package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/opencrafts-io/interventoria/internal/backend"
	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

const maxResourceBody = 10 << 20

// backendPaths maps resources to their collection endpoint on the backend.
// Resources missing here have no generic CRUD page.
var backendPaths = map[permissions.Resource]string{
	permissions.ResourceUsuarios:   "/api/usuarios",
	permissions.ResourceProyectos:  "/api/proyectos",
	permissions.ResourcePersonal:   "/api/personal",
	permissions.ResourceArchivo:    "/api/archivo/radicados",
	permissions.ResourceDocumentos: "/api/archivo/files",
	permissions.ResourceEvidencias: "/api/evidencias",
	permissions.ResourceRoles:      "/api/roles",
}

var methodActions = map[string]permissions.Action{
	http.MethodGet:    permissions.ActionLeer,
	http.MethodPost:   permissions.ActionCrear,
	http.MethodPut:    permissions.ActionActualizar,
	http.MethodDelete: permissions.ActionEliminar,
}

// BackendPath returns the backend collection path of a resource.
func BackendPath(r permissions.Resource) (string, bool) {
	p, ok := backendPaths[r]
	return p, ok
}

// validID rejects ids that would move the backend path out of the
// resource's collection once joined.
func validID(id string) bool {
	return id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// ResourceHandler forwards CRUD calls of a resource page to the backend
// once the action is granted. The backend envelope is relayed untouched.
type ResourceHandler struct {
	Logger   *slog.Logger
	Registry *policy.Registry
	Backend  *backend.Client
}

func (rh *ResourceHandler) Forward(w http.ResponseWriter, r *http.Request) {
	page, ok := middleware.GetPage(r.Context())
	if !ok {
		rh.Logger.Error("Resource endpoint reached without a guard decision")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}
	resource := page.Resource()

	path, ok := BackendPath(resource)
	if !ok {
		writeError(w, http.StatusNotFound, "The resource you are looking for does not exist")
		return
	}

	action, ok := methodActions[r.Method]
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, "This method is not supported")
		return
	}

	engine := rh.Registry.Engine(page.Credential())
	if !engine.HasAction(resource, action) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":    fmt.Sprintf("You are not allowed to %s %s", action, resource),
			"resource": resource,
			"action":   action,
		})
		return
	}

	if id := r.PathValue("id"); id != "" {
		if !validID(id) {
			writeError(w, http.StatusBadRequest, "Please check your request and try again")
			return
		}
		path = path + "/" + url.PathEscape(id)
	}

	req := backend.Request{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Token:  page.Credential().Raw,
	}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		req.Body = http.MaxBytesReader(w, r.Body, maxResourceBody)
		req.ContentType = r.Header.Get("Content-Type")
	}

	resp, err := rh.Backend.Do(r.Context(), req)
	if err != nil {
		attrs := []any{
			slog.String("resource", string(resource)),
			slog.String("method", r.Method),
			slog.Any("error", err),
		}
		if errors.Is(err, backend.ErrMalformedResponse) {
			attrs = append(attrs, slog.Int("status", resp.Status))
		}
		rh.Logger.Error("Backend request failed", attrs...)
		writeError(w, http.StatusBadGateway, "We could not reach the server, please try again later")
		return
	}

	if len(resp.Body) == 0 {
		w.WriteHeader(resp.Status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
