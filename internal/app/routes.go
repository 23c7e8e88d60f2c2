package app

import (
	"net/http"

	"github.com/opencrafts-io/interventoria/internal/handlers"
	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/permissions"
)

func (a *App) loadRoutes() http.Handler {
	router := http.NewServeMux()

	sessionHandler := &handlers.SessionHandler{
		Logger:   a.logger,
		Sessions: a.sessions,
		Registry: a.registry,
	}
	if a.events != nil {
		sessionHandler.Events = a.events
	}
	pageHandler := &handlers.PageHandler{Logger: a.logger, Registry: a.registry}
	resourceHandler := &handlers.ResourceHandler{Logger: a.logger, Registry: a.registry, Backend: a.backend}

	withSession := middleware.RequireSession(a.guard, a.sessions)
	guarded := middleware.RequireResource(a.guard, a.sessions, middleware.FromPath("resource"), a.logger)

	// ping handler
	router.HandleFunc("GET /ping", handlers.PingHandler)

	// Session
	router.HandleFunc("POST /api/session", sessionHandler.SaveSession)
	router.HandleFunc("GET /api/session", sessionHandler.GetSession)
	router.HandleFunc("DELETE /api/session", sessionHandler.DeleteSession)
	router.Handle("GET /api/session/menu", withSession(http.HandlerFunc(sessionHandler.GetMenu)))
	router.Handle("GET /api/session/permissions", withSession(http.HandlerFunc(sessionHandler.GetPermissions)))
	router.Handle("POST /api/session/refresh", withSession(http.HandlerFunc(sessionHandler.Refresh)))

	// Resource pages
	router.Handle("GET /api/pages/{resource}", guarded(http.HandlerFunc(pageHandler.GetPage)))
	router.Handle("GET /api/resources/{resource}", guarded(http.HandlerFunc(resourceHandler.Forward)))
	router.Handle("POST /api/resources/{resource}", guarded(http.HandlerFunc(resourceHandler.Forward)))
	router.Handle("PUT /api/resources/{resource}/{id}", guarded(http.HandlerFunc(resourceHandler.Forward)))
	router.Handle("DELETE /api/resources/{resource}/{id}", guarded(http.HandlerFunc(resourceHandler.Forward)))

	// Audit
	if a.pool != nil {
		auditHandler := &handlers.AuditHandler{Logger: a.logger}
		auditStack := middleware.CreateStack(
			a.auditGate(),
			middleware.WithDBConnection(a.logger, a.pool),
		)
		router.Handle("GET /api/audit/access", auditStack(http.HandlerFunc(auditHandler.ListAccessDecisions)))
	}

	return router
}

// auditGate admits sessions that can open the configuracion page and hold
// an explicit configurar grant on it.
func (a *App) auditGate() middleware.Middleware {
	return middleware.CreateStack(
		middleware.RequireResource(a.guard, a.sessions, middleware.Static(permissions.ResourceConfiguracion), a.logger),
		middleware.RequireAction(a.registry, permissions.ActionConfigurar),
	)
}
