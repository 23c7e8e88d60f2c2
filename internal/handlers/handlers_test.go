package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrafts-io/interventoria/internal/backend"
	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/handlers"
	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend serves the permissions endpoint and records proxied calls.
type fakeBackend struct {
	mu       sync.Mutex
	status   int
	grants   string
	requests []*http.Request
}

func (f *fakeBackend) setGrants(status int, grants string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.grants = grants
}

func (f *fakeBackend) last() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == permissions.MePath {
		w.WriteHeader(f.status)
		if f.status == http.StatusOK {
			w.Write([]byte(`{"success":true,"data":` + f.grants + `}`))
		} else {
			w.Write([]byte(`{"success":false,"error":"permisos no disponibles"}`))
		}
		return
	}

	f.requests = append(f.requests, r.Clone(context.Background()))
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Write([]byte(`{"success":true,"data":[{"id":1,"nombre":"Puente"}]}`))
}

type signOutRecorder struct {
	mu       sync.Mutex
	subjects []string
}

func (s *signOutRecorder) PublishSignedOut(_ context.Context, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects = append(s.subjects, subject)
	return nil
}

type portal struct {
	backend *fakeBackend
	server  *httptest.Server
	client  *http.Client
	events  *signOutRecorder
}

func newPortal(t *testing.T) *portal {
	t.Helper()
	logger := discardLogger()

	fb := &fakeBackend{status: http.StatusOK, grants: `[]`}
	backendSrv := httptest.NewServer(fb)
	t.Cleanup(backendSrv.Close)

	client, err := backend.NewClient(backendSrv.URL, time.Second, logger)
	require.NoError(t, err)

	store := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.Secure = false
	store.Options.SameSite = http.SameSiteLaxMode
	stores := credential.NewSessionsWithStore(store, "portal", logger)

	registry := policy.NewRegistry(permissions.NewHTTPFetcher(client, logger), logger)
	g := guard.New(func(cred credential.Credential) guard.Policy { return registry.Engine(cred) }, "/login", logger)

	events := &signOutRecorder{}
	sessionHandler := &handlers.SessionHandler{Logger: logger, Sessions: stores, Registry: registry, Events: events}
	pageHandler := &handlers.PageHandler{Logger: logger, Registry: registry}
	resourceHandler := &handlers.ResourceHandler{Logger: logger, Registry: registry, Backend: client}

	withSession := middleware.RequireSession(g, stores)
	guarded := middleware.RequireResource(g, stores, middleware.FromPath("resource"), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", sessionHandler.SaveSession)
	mux.HandleFunc("GET /api/session", sessionHandler.GetSession)
	mux.HandleFunc("DELETE /api/session", sessionHandler.DeleteSession)
	mux.Handle("GET /api/session/menu", withSession(http.HandlerFunc(sessionHandler.GetMenu)))
	mux.Handle("GET /api/session/permissions", withSession(http.HandlerFunc(sessionHandler.GetPermissions)))
	mux.Handle("POST /api/session/refresh", withSession(http.HandlerFunc(sessionHandler.Refresh)))
	mux.Handle("GET /api/pages/{resource}", guarded(http.HandlerFunc(pageHandler.GetPage)))
	mux.Handle("GET /api/resources/{resource}", guarded(http.HandlerFunc(resourceHandler.Forward)))
	mux.Handle("POST /api/resources/{resource}", guarded(http.HandlerFunc(resourceHandler.Forward)))
	mux.Handle("DELETE /api/resources/{resource}/{id}", guarded(http.HandlerFunc(resourceHandler.Forward)))

	srv := httptest.NewServer(middleware.Logging(logger)(mux))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &portal{
		backend: fb,
		server:  srv,
		events:  events,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *portal) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, p.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 {
		json.Unmarshal(raw, &out)
	}
	return resp, out
}

func (p *portal) signIn(t *testing.T, role string) {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  7,
		"rol": role,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	raw, err := token.SignedString([]byte("backend-secret"))
	require.NoError(t, err)

	resp, _ := p.do(t, http.MethodPost, "/api/session", map[string]string{"token": raw})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func menuPaths(t *testing.T, body map[string]any) []string {
	t.Helper()
	entries, ok := body["menu"].([]any)
	require.True(t, ok, "menu missing from %v", body)

	var out []string
	for _, e := range entries {
		out = append(out, e.(map[string]any)["path"].(string))
	}
	return out
}

func TestSessionLifecycle(t *testing.T) {
	p := newPortal(t)
	p.backend.setGrants(http.StatusOK, `[{"recurso":"proyectos","acciones":["leer"]}]`)

	_, body := p.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, false, body["authenticated"])

	p.signIn(t, "Interventor")

	_, body = p.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "7", body["subject_id"])
	assert.Equal(t, "Interventor", body["role_claim"])
	assert.Equal(t, "interventor", body["role"])

	resp, body := p.do(t, http.MethodGet, "/api/session/menu", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"/dashboard", "/proyectos"}, menuPaths(t, body))

	resp, body = p.do(t, http.MethodGet, "/api/session/permissions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["loaded"])
	assert.Nil(t, body["error"])

	resp, _ = p.do(t, http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"7"}, p.events.subjects)

	_, body = p.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, false, body["authenticated"])

	resp, _ = p.do(t, http.MethodGet, "/api/session/menu", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSaveSessionRejectsBadTokens(t *testing.T) {
	p := newPortal(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  1,
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	resp, _ := p.do(t, http.MethodPost, "/api/session", map[string]string{"token": expired})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = p.do(t, http.MethodPost, "/api/session", map[string]string{"token": "not-a-token"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = p.do(t, http.MethodPost, "/api/session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPageGuard(t *testing.T) {
	p := newPortal(t)

	resp, _ := p.do(t, http.MethodGet, "/api/pages/proyectos?estado=activo", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Fapi%2Fpages%2Fproyectos%3Festado%3Dactivo", resp.Header.Get("Location"))

	p.backend.setGrants(http.StatusOK, `[
		{"recurso":"proyectos","acciones":["leer","crear"]},
		{"recurso":"reportes","acciones":[]}
	]`)
	p.signIn(t, "Interventor")

	resp, body := p.do(t, http.MethodGet, "/api/pages/proyectos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Proyectos", body["title"])
	affordances := body["affordances"].(map[string]any)
	assert.Equal(t, true, affordances["access"])
	assert.Equal(t, true, affordances["create"])
	assert.Equal(t, false, affordances["delete"])

	resp, body = p.do(t, http.MethodGet, "/api/pages/reportes", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "reportes", body["resource"])
	assert.Equal(t, "Interventor", body["role"])
	assert.Equal(t, "/dashboard", body["home"])

	// No entry at all: the page is shown.
	resp, _ = p.do(t, http.MethodGet, "/api/pages/evidencias", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = p.do(t, http.MethodGet, "/api/pages/naves", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnverifiedPermissionsAndRefresh(t *testing.T) {
	p := newPortal(t)
	p.backend.setGrants(http.StatusInternalServerError, "")
	p.signIn(t, "usuario")

	resp, body := p.do(t, http.MethodGet, "/api/pages/archivo", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, middleware.RefreshPath, body["retry"])

	_, body = p.do(t, http.MethodGet, "/api/session/menu", nil)
	assert.Equal(t, []string{"/dashboard"}, menuPaths(t, body))

	resp, _ = p.do(t, http.MethodPost, "/api/session/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	p.backend.setGrants(http.StatusOK, `[{"recurso":"archivo","acciones":["leer"]}]`)
	resp, body = p.do(t, http.MethodPost, "/api/session/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["stale"])
	assert.Equal(t, []string{"/dashboard", "/archivo"}, menuPaths(t, body))

	resp, _ = p.do(t, http.MethodGet, "/api/pages/archivo", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A failed refresh keeps the previous grants.
	p.backend.setGrants(http.StatusBadGateway, "")
	resp, body = p.do(t, http.MethodPost, "/api/session/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["stale"])

	resp, _ = p.do(t, http.MethodGet, "/api/pages/archivo", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResourceProxy(t *testing.T) {
	p := newPortal(t)
	p.backend.setGrants(http.StatusOK, `[
		{"recurso":"proyectos","acciones":["leer"]},
		{"recurso":"archivo","acciones":["leer","eliminar"]}
	]`)
	p.signIn(t, "interventor")

	resp, body := p.do(t, http.MethodGet, "/api/resources/proyectos?estado=activo&page=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	last := p.backend.last()
	require.NotNil(t, last)
	assert.Equal(t, "/api/proyectos", last.URL.Path)
	assert.Equal(t, "activo", last.URL.Query().Get("estado"))
	assert.Equal(t, "2", last.URL.Query().Get("page"))
	assert.Contains(t, last.Header.Get("Authorization"), "Bearer ")

	resp, body = p.do(t, http.MethodPost, "/api/resources/proyectos", map[string]string{"nombre": "Puente"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "crear", body["action"])

	resp, _ = p.do(t, http.MethodDelete, "/api/resources/archivo/15", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "/api/archivo/radicados/15", p.backend.last().URL.Path)

	// configuracion has no grant entry so the guard lets it through, but it
	// has no generic CRUD endpoint.
	resp, _ = p.do(t, http.MethodGet, "/api/resources/configuracion", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResourceProxyRejectsPathTraversal(t *testing.T) {
	p := newPortal(t)
	p.backend.setGrants(http.StatusOK, `[
		{"recurso":"archivo","acciones":["leer","eliminar"]},
		{"recurso":"roles","acciones":[]}
	]`)
	p.signIn(t, "interventor")

	for _, id := range []string{"..%2F..%2Froles%2F5", "%2E%2E", "15%5C..%5C..", "a%2Fb"} {
		resp, _ := p.do(t, http.MethodDelete, "/api/resources/archivo/"+id, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, id)
	}
	assert.Nil(t, p.backend.last())

	resp, _ := p.do(t, http.MethodDelete, "/api/resources/archivo/15%20b", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "/api/archivo/radicados/15 b", p.backend.last().URL.Path)
}

func TestBackendPaths(t *testing.T) {
	cases := map[permissions.Resource]string{
		permissions.ResourceDocumentos: "/api/archivo/files",
		permissions.ResourceArchivo:    "/api/archivo/radicados",
		permissions.ResourceRoles:      "/api/roles",
	}
	for resource, want := range cases {
		got, ok := handlers.BackendPath(resource)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := handlers.BackendPath(permissions.ResourceReportes)
	assert.False(t, ok)
}
