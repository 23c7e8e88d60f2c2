package handlers

import (
	"log/slog"
	"net/http"

	"github.com/opencrafts-io/interventoria/internal/audit"
	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/middleware/pagination"
)

type AuditHandler struct {
	Logger *slog.Logger
}

// ListAccessDecisions returns the access decision log, newest first.
func (ah *AuditHandler) ListAccessDecisions(w http.ResponseWriter, r *http.Request) {
	conn, err := middleware.GetDBConnFromContext(r.Context())
	if err != nil {
		ah.Logger.Error("Error while processing request", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	params := pagination.ParsePageParams(r)
	repo := audit.New(conn)

	entries, err := repo.ListEntries(r.Context(), audit.ListEntriesParams{
		Limit:  int32(params.PageSize),
		Offset: int32(params.Offset),
	})
	if err != nil {
		ah.Logger.Error("Failed to list access decisions", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "We couldn't complete this request at the moment please try again")
		return
	}

	count, err := repo.CountEntries(r.Context())
	if err != nil {
		ah.Logger.Error("Failed to count access decisions", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "We couldn't complete this request at the moment please try again")
		return
	}

	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, pagination.BuildPaginatedResponse(r, count, entries, params))
}
