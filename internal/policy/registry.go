package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/permissions"
)

type session struct {
	engine *Engine
	cred   credential.Credential
}

// Registry keeps one Engine per signed-in session, keyed by the hash of the
// session's credential. A new token therefore always gets a fresh engine.
type Registry struct {
	fetcher permissions.Fetcher
	logger  *slog.Logger
	opts    []Option
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewRegistry(fetcher permissions.Fetcher, logger *slog.Logger, opts ...Option) *Registry {
	return &Registry{
		fetcher:  fetcher,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Engine returns the engine of the credential's session, creating it on first use.
func (r *Registry) Engine(cred credential.Credential) *Engine {
	key := cred.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s.engine
	}

	reader := credential.Fixed{Credential: cred, Now: r.now}
	s := &session{
		engine: NewEngine(reader, r.fetcher, r.logger, r.opts...),
		cred:   cred,
	}
	r.sessions[key] = s
	return s.engine
}

// Discard drops the session of a credential, resetting its engine first so
// any holder of the engine stops seeing grants.
func (r *Registry) Discard(cred credential.Credential) {
	key := cred.Key()

	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		s.engine.Reset()
	}
}

// EnginesFor lists the live engines of a subject.
func (r *Registry) EnginesFor(subject string) []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Engine
	for _, s := range r.sessions {
		if s.cred.SubjectID == subject {
			out = append(out, s.engine)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions whose credential has expired and returns how many
// were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var expired []*session
	for key, s := range r.sessions {
		if !s.cred.Valid(now) {
			expired = append(expired, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.engine.Reset()
	}
	return len(expired)
}

// StartSweeper runs Sweep periodically until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Session sweeper stopped")
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					r.logger.Info("Swept expired sessions", slog.Int("count", n))
				}
			}
		}
	}()
}
