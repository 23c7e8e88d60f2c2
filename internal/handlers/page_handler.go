package handlers

import (
	"log/slog"
	"net/http"

	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

// PageHandler serves the model of a generic resource page: which CRUD
// controls to enable and the menu to render beside it.
type PageHandler struct {
	Logger   *slog.Logger
	Registry *policy.Registry
}

func (ph *PageHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	page, ok := middleware.GetPage(r.Context())
	if !ok {
		ph.Logger.Error("Page endpoint reached without a guard decision")
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	engine := ph.Registry.Engine(page.Credential())
	resource := page.Resource()

	body := map[string]any{
		"resource":    resource,
		"affordances": engine.Affordances(resource),
		"menu":        engine.DeriveMenu(),
		"stale":       page.Err() != nil,
	}
	if entry, ok := policy.MenuEntryFor(resource); ok {
		body["title"] = entry.Label
		body["path"] = entry.Path
	}

	writeJSON(w, http.StatusOK, body)
}
