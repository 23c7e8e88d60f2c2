package credential

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/opencrafts-io/interventoria/internal/config"
)

// Sessions builds a token Store for each incoming request on top of a signed
// cookie session.
type Sessions struct {
	store  sessions.Store
	name   string
	logger *slog.Logger
	now    func() time.Time
}

func NewSessions(cfg *config.Config, logger *slog.Logger) (*Sessions, error) {
	secret := cfg.SessionConfig.Secret
	if secret == "" {
		logger.Error("Session secret is empty")
		return nil, fmt.Errorf("session secret is empty")
	}

	store := sessions.NewCookieStore([]byte(secret))
	store.MaxAge(int((time.Duration(cfg.SessionConfig.MaxAgeHours) * time.Hour).Seconds()))
	store.Options.Path = "/"
	store.Options.HttpOnly = true

	if cfg.SessionConfig.Environment == "production" || cfg.SessionConfig.Environment == "staging" {
		store.Options.Secure = true
		store.Options.SameSite = http.SameSiteNoneMode
	} else {
		store.Options.Secure = false
		store.Options.SameSite = http.SameSiteLaxMode
	}

	return NewSessionsWithStore(store, cfg.SessionConfig.Name, logger), nil
}

func NewSessionsWithStore(store sessions.Store, name string, logger *slog.Logger) *Sessions {
	return &Sessions{store: store, name: name, logger: logger, now: time.Now}
}

// For returns the token store of the request. A session cookie that fails to
// decode (rotated secret, tampering) yields a fresh empty session.
func (s *Sessions) For(w http.ResponseWriter, r *http.Request) *Store {
	session, err := s.store.Get(r, s.name)
	if err != nil {
		s.logger.Debug("Discarding unreadable session cookie", slog.Any("error", err))
	}

	storage := &SessionStorage{session: session, w: w, r: r, path: "/"}
	return NewStore(storage, s.logger, WithCookies(storage), WithClock(s.now))
}
