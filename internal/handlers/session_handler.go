package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/middleware"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

const maxSessionBody = 64 << 10

// SignOutPublisher announces cleared sessions.
type SignOutPublisher interface {
	PublishSignedOut(ctx context.Context, subject, requestID string) error
}

type SessionHandler struct {
	Logger   *slog.Logger
	Sessions middleware.TokenStores
	Registry *policy.Registry
	// Events is optional.
	Events SignOutPublisher
}

type sessionView struct {
	Authenticated bool            `json:"authenticated"`
	SubjectID     string          `json:"subject_id,omitempty"`
	RoleClaim     string          `json:"role_claim,omitempty"`
	Role          credential.Role `json:"role,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

func viewOf(cred credential.Credential) sessionView {
	exp := cred.ExpiresAt
	return sessionView{
		Authenticated: true,
		SubjectID:     cred.SubjectID,
		RoleClaim:     cred.RoleClaim,
		Role:          cred.Role,
		ExpiresAt:     &exp,
	}
}

type permissionsView struct {
	Grants  permissions.GrantSet `json:"grants"`
	Loaded  bool                 `json:"loaded"`
	Loading bool                 `json:"loading"`
	Error   *string              `json:"error"`
}

func permissionsOf(e *policy.Engine) permissionsView {
	v := permissionsView{
		Grants:  e.Grants(),
		Loaded:  e.Loaded(),
		Loading: e.Loading(),
	}
	if err := e.Err(); err != nil {
		msg := err.Error()
		v.Error = &msg
	}
	return v
}

type saveSessionRequest struct {
	Token string `json:"token"`
}

// SaveSession stores the token issued by the backend at sign-in and loads
// the permissions of the new session.
func (sh *SessionHandler) SaveSession(w http.ResponseWriter, r *http.Request) {
	var body saveSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSessionBody)).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "Please check your request body and try again")
		return
	}

	store := sh.Sessions.For(w, r)
	previous, hadPrevious := store.ReadCredential()

	cred, err := store.WriteCredential(body.Token)
	switch {
	case errors.Is(err, credential.ErrCredentialExpired):
		writeError(w, http.StatusUnauthorized, "Your session has expired, please sign in again")
		return
	case errors.Is(err, credential.ErrCredentialDecode):
		writeError(w, http.StatusBadRequest, "The token you supplied could not be read")
		return
	case err != nil:
		sh.Logger.Error("Failed to store credential", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	if hadPrevious && previous.Key() != cred.Key() {
		sh.Registry.Discard(previous)
	}

	engine := sh.Registry.Engine(cred)
	if err := engine.Await(r.Context()); err != nil {
		sh.Logger.Warn("Signed in without permissions",
			slog.String("subject", cred.SubjectID),
			slog.Any("error", err),
		)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session":     viewOf(cred),
		"permissions": permissionsOf(engine),
		"menu":        engine.DeriveMenu(),
	})
}

func (sh *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	cred, ok := sh.Sessions.For(w, r).ReadCredential()
	if !ok {
		writeJSON(w, http.StatusOK, sessionView{})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(cred))
}

// DeleteSession signs out: the session's engine is discarded and both
// token keys are cleared.
func (sh *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	store := sh.Sessions.For(w, r)

	cred, ok := store.ReadCredential()
	if ok {
		sh.Registry.Discard(cred)
	}

	if err := store.ClearCredential(); err != nil {
		sh.Logger.Error("Failed to clear credential", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, errInternal)
		return
	}

	if ok && sh.Events != nil {
		if err := sh.Events.PublishSignedOut(r.Context(), cred.SubjectID, middleware.GetRequestID(r.Context())); err != nil {
			sh.Logger.Error("Failed to publish signed out event", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

func (sh *SessionHandler) engine(w http.ResponseWriter, r *http.Request) (*policy.Engine, bool) {
	cred, ok := middleware.GetCredential(r.Context())
	if !ok {
		sh.Logger.Error("Session endpoint reached without a credential in context")
		writeError(w, http.StatusInternalServerError, errInternal)
		return nil, false
	}
	return sh.Registry.Engine(cred), true
}

func (sh *SessionHandler) GetMenu(w http.ResponseWriter, r *http.Request) {
	engine, ok := sh.engine(w, r)
	if !ok {
		return
	}

	// An unloaded engine still yields the home entry.
	if err := engine.Await(r.Context()); err != nil {
		sh.Logger.Warn("Deriving menu without permissions", slog.Any("error", err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"menu":   slices.Collect(engine.Menu()),
		"loaded": engine.Loaded(),
	})
}

func (sh *SessionHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	engine, ok := sh.engine(w, r)
	if !ok {
		return
	}

	if err := engine.Await(r.Context()); err != nil {
		sh.Logger.Warn("Permissions requested but not loaded", slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, permissionsOf(engine))
}

// Refresh re-fetches permissions from the backend, skipping the grant cache.
// A failure with a previous grant set keeps serving it.
func (sh *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	engine, ok := sh.engine(w, r)
	if !ok {
		return
	}

	err := engine.Refresh(r.Context())
	if err != nil && !engine.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "We could not load your permissions, please try again",
			"permissions": permissionsOf(engine),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": permissionsOf(engine),
		"menu":        engine.DeriveMenu(),
		"stale":       err != nil,
	})
}
