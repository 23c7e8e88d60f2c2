package policy

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/permissions"
)

const (
	defaultFetchTimeout = 10 * time.Second

	// An explicit refresh never joins a first load, which may be served
	// from the grant cache.
	awaitFlight   = "await"
	refreshFlight = "refresh"
)

var (
	ErrUnauthenticated = errors.New("no valid credential")
	// ErrDiscarded is returned by a load that finished after Reset.
	ErrDiscarded = errors.New("permissions arrived after the session was reset")
)

// AccessRule decides whether a grant entry makes its resource visible.
type AccessRule int

const (
	// AccessAnyAction: any granted action implies visibility.
	AccessAnyAction AccessRule = iota
	// AccessReadOrAcceder: only leer or acceder imply visibility. Kept for
	// pages that used to gate on read access alone.
	AccessReadOrAcceder
)

// Affordances are the CRUD controls a resource page may enable.
type Affordances struct {
	Access    bool `json:"access"`
	Create    bool `json:"create"`
	Read      bool `json:"read"`
	Update    bool `json:"update"`
	Delete    bool `json:"delete"`
	Approve   bool `json:"approve"`
	Export    bool `json:"export"`
	Configure bool `json:"configure"`
	Acceder   bool `json:"acceder"`
}

// snapshot is replaced as a whole, never mutated. seq is the number of the
// load that produced it.
type snapshot struct {
	grants permissions.GrantSet
	loaded bool
	err    error
	seq    uint64
}

type Option func(*Engine)

// WithFetchTimeout bounds a single permissions fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithStrictAccess makes CanAccess fail closed for resources with no grant
// entry, except for the listed public resources.
func WithStrictAccess(public ...permissions.Resource) Option {
	return func(e *Engine) {
		e.strict = true
		e.public = make(map[permissions.Resource]bool, len(public))
		for _, r := range public {
			e.public[r] = true
		}
	}
}

// Engine answers authorization questions for one session. Queries never
// fail: an unloaded or errored engine behaves as an empty grant set.
type Engine struct {
	tokens  credential.Reader
	fetcher permissions.Fetcher
	logger  *slog.Logger
	timeout time.Duration
	strict  bool
	public  map[permissions.Resource]bool

	flight     singleflight.Group
	state      atomic.Pointer[snapshot]
	loading    atomic.Int32
	seq        atomic.Uint64
	generation atomic.Uint64
}

func NewEngine(tokens credential.Reader, fetcher permissions.Fetcher, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		tokens:  tokens,
		fetcher: fetcher,
		logger:  logger,
		timeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.Store(&snapshot{})
	return e
}

func (e *Engine) current() *snapshot {
	return e.state.Load()
}

// Loaded reports whether a grant set has been loaded successfully at least once.
func (e *Engine) Loaded() bool {
	return e.current().loaded
}

// Loading reports whether a fetch is in flight.
func (e *Engine) Loading() bool {
	return e.loading.Load() > 0
}

// Err is the error of the last fetch, nil after a successful one.
func (e *Engine) Err() error {
	return e.current().err
}

func (e *Engine) Grants() permissions.GrantSet {
	return e.current().grants
}

// RoleClaim is the raw role claim of the session's credential.
func (e *Engine) RoleClaim() string {
	cred, ok := e.tokens.ReadCredential()
	if !ok {
		return ""
	}
	return cred.RoleClaim
}

func (e *Engine) role() credential.Role {
	cred, ok := e.tokens.ReadCredential()
	if !ok {
		return credential.RoleUnknown
	}
	return cred.Role
}

// HasAction fails closed: false while loading, unloaded or errored without a
// previous grant set.
func (e *Engine) HasAction(r permissions.Resource, a permissions.Action) bool {
	return e.current().grants.Has(r, a)
}

// CanAccess applies AccessAnyAction. A resource with no grant entry at all
// is allowed unless strict access is enabled.
func (e *Engine) CanAccess(r permissions.Resource) bool {
	return e.CanAccessWith(AccessAnyAction, r)
}

func (e *Engine) CanAccessWith(rule AccessRule, r permissions.Resource) bool {
	g, ok := e.current().grants.Lookup(r)
	if !ok {
		if e.strict {
			return e.public[r]
		}
		return true
	}

	switch rule {
	case AccessReadOrAcceder:
		return g.Actions.HasAny(permissions.ActionLeer, permissions.ActionAcceder)
	default:
		return !g.Actions.Empty()
	}
}

func (e *Engine) CanCreate(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionCrear)
}

func (e *Engine) CanRead(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionLeer)
}

func (e *Engine) CanUpdate(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionActualizar)
}

func (e *Engine) CanDelete(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionEliminar)
}

func (e *Engine) CanApprove(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionAprobar)
}

func (e *Engine) CanExport(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionExportar)
}

func (e *Engine) CanConfigure(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionConfigurar)
}

func (e *Engine) CanAcceder(r permissions.Resource) bool {
	return e.HasAction(r, permissions.ActionAcceder)
}

// Affordances evaluates every predicate against a single snapshot.
func (e *Engine) Affordances(r permissions.Resource) Affordances {
	s := e.current()
	has := func(a permissions.Action) bool { return s.grants.Has(r, a) }

	return Affordances{
		Access:    e.CanAccess(r),
		Create:    has(permissions.ActionCrear),
		Read:      has(permissions.ActionLeer),
		Update:    has(permissions.ActionActualizar),
		Delete:    has(permissions.ActionEliminar),
		Approve:   has(permissions.ActionAprobar),
		Export:    has(permissions.ActionExportar),
		Configure: has(permissions.ActionConfigurar),
		Acceder:   has(permissions.ActionAcceder),
	}
}

// DeriveMenu computes the menu from the current grant set and role claim.
func (e *Engine) DeriveMenu() []MenuEntry {
	return DeriveMenu(e.current().grants, e.role())
}

// Menu yields the derived menu. Each iteration derives it again.
func (e *Engine) Menu() iter.Seq[MenuEntry] {
	return func(yield func(MenuEntry) bool) {
		for _, m := range e.DeriveMenu() {
			if !yield(m) {
				return
			}
		}
	}
}

// Await performs the first load. Once a load has been attempted it returns
// the recorded outcome without fetching again; use Refresh to retry.
func (e *Engine) Await(ctx context.Context) error {
	s := e.current()
	if s.loaded {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	return e.run(ctx, awaitFlight)
}

// Refresh fetches the grant set again from the backend, bypassing any grant
// cache. Concurrent calls share one fetch. A caller whose context ends stops
// waiting but the shared fetch still completes and is applied.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.run(permissions.WithoutCache(ctx), refreshFlight)
}

func (e *Engine) run(ctx context.Context, key string) error {
	ch := e.flight.DoChan(key, func() (any, error) {
		return nil, e.load(ctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) load(ctx context.Context) error {
	generation := e.generation.Load()
	seq := e.seq.Add(1)

	cred, ok := e.tokens.ReadCredential()
	if !ok {
		e.apply(generation, func(*snapshot) *snapshot {
			return &snapshot{err: ErrUnauthenticated, seq: seq}
		})
		return ErrUnauthenticated
	}

	e.loading.Add(1)
	defer e.loading.Add(-1)

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	grants, err := e.fetcher.FetchGrants(fetchCtx, cred)
	if err != nil {
		applied := e.apply(generation, func(prev *snapshot) *snapshot {
			if prev.seq > seq {
				return nil
			}
			return &snapshot{grants: prev.grants, loaded: prev.loaded, err: err, seq: seq}
		})
		if !applied {
			return ErrDiscarded
		}
		e.logger.Warn("Failed to load permissions",
			slog.String("subject", cred.SubjectID),
			slog.Bool("stale", e.current().loaded),
			slog.Any("error", err),
		)
		return err
	}

	applied := e.apply(generation, func(prev *snapshot) *snapshot {
		if prev.seq > seq {
			return nil
		}
		return &snapshot{grants: grants, loaded: true, seq: seq}
	})
	if !applied {
		e.logger.Debug("Dropped permissions of a reset session", slog.String("subject", cred.SubjectID))
		return ErrDiscarded
	}
	return nil
}

// apply installs the snapshot built by next unless the engine was reset
// since generation. next returns nil when a newer load already won, which
// leaves the state alone but still counts as applied.
func (e *Engine) apply(generation uint64, next func(prev *snapshot) *snapshot) bool {
	for {
		if e.generation.Load() != generation {
			return false
		}
		prev := e.current()
		s := next(prev)
		if s == nil {
			return true
		}
		if e.state.CompareAndSwap(prev, s) {
			return true
		}
	}
}

// Reset discards the grant set, as on sign-out. A load still in flight is
// dropped when it completes.
func (e *Engine) Reset() {
	e.generation.Add(1)
	e.state.Store(&snapshot{seq: e.seq.Load()})
}
