package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/permissions"
)

// State is a step of the page access state machine.
type State string

const (
	StateChecking       State = "checking"
	StateRedirecting    State = "redirecting"
	StateAwaitingPolicy State = "awaiting-policy"
	StateAuthorized     State = "authorized"
	StateDenied         State = "denied"
	// StateUnverified: the first permissions load failed, so there is
	// nothing to decide on. The page offers a manual retry.
	StateUnverified State = "unverified"
)

// Terminal reports whether the state ends a check.
func (s State) Terminal() bool {
	switch s {
	case StateRedirecting, StateAuthorized, StateDenied, StateUnverified:
		return true
	}
	return false
}

// Policy is the part of the policy engine the guard depends on.
type Policy interface {
	Await(ctx context.Context) error
	Refresh(ctx context.Context) error
	Loaded() bool
	CanAccess(r permissions.Resource) bool
}

// PolicyProvider returns the policy of the session a credential belongs to.
type PolicyProvider func(cred credential.Credential) Policy

// Decision is reported to observers each time a page reaches a terminal state.
type Decision struct {
	State       State
	Resource    permissions.Resource
	Destination string
	SubjectID   string
	RoleClaim   string
	Err         error
}

// Observer is notified of every terminal decision.
type Observer interface {
	ObserveDecision(ctx context.Context, d Decision)
}

type ObserverFunc func(ctx context.Context, d Decision)

func (f ObserverFunc) ObserveDecision(ctx context.Context, d Decision) { f(ctx, d) }

// Guard protects pages. It holds no per-page state; see Page.
type Guard struct {
	policies  PolicyProvider
	signInURL string
	logger    *slog.Logger
	observers []Observer
}

func New(policies PolicyProvider, signInURL string, logger *slog.Logger, observers ...Observer) *Guard {
	return &Guard{
		policies:  policies,
		signInURL: signInURL,
		logger:    logger,
		observers: observers,
	}
}

// Open starts the state machine for one page view.
func (g *Guard) Open(tokens credential.Reader, resource permissions.Resource, destination string) *Page {
	return &Page{
		guard:       g,
		tokens:      tokens,
		resource:    resource,
		destination: destination,
		state:       StateChecking,
		trail:       []State{StateChecking},
	}
}

// SignInURL returns the sign-in location carrying the intended destination.
func (g *Guard) SignInURL(destination string) string {
	u, err := url.Parse(g.signInURL)
	if err != nil {
		return g.signInURL
	}
	if destination != "" {
		q := u.Query()
		q.Set("next", destination)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Page is the guard state of a single page view.
type Page struct {
	guard       *Guard
	tokens      credential.Reader
	resource    permissions.Resource
	destination string

	state  State
	trail  []State
	cred   credential.Credential
	policy Policy
	err    error
}

func (p *Page) State() State { return p.state }

// Trail lists every state visited, in order.
func (p *Page) Trail() []State { return append([]State(nil), p.trail...) }

func (p *Page) Policy() Policy { return p.policy }

func (p *Page) Credential() credential.Credential { return p.cred }

func (p *Page) Resource() permissions.Resource { return p.resource }

// Err is the permissions error behind StateUnverified, or a stale-data
// warning alongside a decision taken on a previous grant set.
func (p *Page) Err() error { return p.err }

func (p *Page) RedirectURL() string {
	return p.guard.SignInURL(p.destination)
}

func (p *Page) transition(s State) {
	p.state = s
	p.trail = append(p.trail, s)
}

// Check runs the page from checking to a terminal state. Calling it on a
// page that already reached a terminal state returns that state.
func (p *Page) Check(ctx context.Context) State {
	if p.state != StateChecking {
		return p.state
	}

	cred, ok := p.tokens.ReadCredential()
	if !ok {
		p.transition(StateRedirecting)
		p.report(ctx)
		return p.state
	}

	p.cred = cred
	p.policy = p.guard.policies(cred)
	p.transition(StateAwaitingPolicy)

	p.err = p.policy.Await(ctx)
	return p.resolve(ctx)
}

// Refresh re-fetches permissions and decides again. It only applies to pages
// in authorized, denied or unverified.
func (p *Page) Refresh(ctx context.Context) State {
	switch p.state {
	case StateAuthorized, StateDenied, StateUnverified:
	default:
		return p.state
	}

	p.transition(StateAwaitingPolicy)
	p.err = p.policy.Refresh(ctx)
	return p.resolve(ctx)
}

func (p *Page) resolve(ctx context.Context) State {
	switch {
	case !p.policy.Loaded():
		p.transition(StateUnverified)
	case p.policy.CanAccess(p.resource):
		p.transition(StateAuthorized)
	default:
		p.transition(StateDenied)
	}

	if p.err != nil && !errors.Is(p.err, context.Canceled) {
		p.guard.logger.Warn("Deciding page access without fresh permissions",
			slog.String("resource", string(p.resource)),
			slog.String("state", string(p.state)),
			slog.Any("error", p.err),
		)
	}

	p.report(ctx)
	return p.state
}

func (p *Page) report(ctx context.Context) {
	d := Decision{
		State:       p.state,
		Resource:    p.resource,
		Destination: p.destination,
		SubjectID:   p.cred.SubjectID,
		RoleClaim:   p.cred.RoleClaim,
		Err:         p.err,
	}
	for _, o := range p.guard.observers {
		o.ObserveDecision(ctx, d)
	}
}
