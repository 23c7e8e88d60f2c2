package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/handlers"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

type staticFetcher struct {
	grants permissions.GrantSet
}

func (f staticFetcher) FetchGrants(context.Context, credential.Credential) (permissions.GrantSet, error) {
	return f.grants, nil
}

func gateApp(t *testing.T, grants ...permissions.RawGrant) *App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	store.Options.Path = "/"
	store.Options.Secure = false
	store.Options.SameSite = http.SameSiteLaxMode

	registry := policy.NewRegistry(staticFetcher{grants: permissions.Normalize(grants, nil)}, logger)
	return &App{
		logger:   logger,
		sessions: credential.NewSessionsWithStore(store, "portal", logger),
		registry: registry,
		guard: guard.New(func(cred credential.Credential) guard.Policy {
			return registry.Engine(cred)
		}, "/login", logger),
	}
}

// sessionCookies signs a user in and returns the resulting session cookies.
func sessionCookies(t *testing.T, a *App) []*http.Cookie {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "9",
		"rol": "administrador",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = a.sessions.For(rec, httptest.NewRequest(http.MethodPost, "/api/session", nil)).WriteCredential(raw)
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestAuditGate(t *testing.T) {
	reached := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name     string
		grants   []permissions.RawGrant
		signedIn bool
		want     int
	}{
		{"signed out", nil, false, http.StatusFound},
		{"configuration manager", []permissions.RawGrant{{Recurso: "configuracion", Acciones: []string{"leer", "configurar"}}}, true, http.StatusNoContent},
		{"configuration reader", []permissions.RawGrant{{Recurso: "configuracion", Acciones: []string{"leer"}}}, true, http.StatusForbidden},
		{"explicit empty grant", []permissions.RawGrant{{Recurso: "configuracion", Acciones: []string{}}}, true, http.StatusForbidden},
		// The page fails open without an entry, the action never does.
		{"no configuracion entry", []permissions.RawGrant{{Recurso: "usuarios", Acciones: []string{"crear"}}}, true, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := gateApp(t, tc.grants...)
			handler := a.auditGate()(reached)

			req := httptest.NewRequest(http.MethodGet, "/api/audit/access", nil)
			if tc.signedIn {
				for _, c := range sessionCookies(t, a) {
					req.AddCookie(c)
				}
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusForbidden {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "/dashboard", body["home"])
			}
		})
	}
}

func TestAuditHandlerWithoutConnection(t *testing.T) {
	a := gateApp(t, permissions.RawGrant{Recurso: "configuracion", Acciones: []string{"configurar"}})
	auditHandler := &handlers.AuditHandler{Logger: a.logger}
	handler := a.auditGate()(http.HandlerFunc(auditHandler.ListAccessDecisions))

	req := httptest.NewRequest(http.MethodGet, "/api/audit/access", nil)
	for _, c := range sessionCookies(t, a) {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
