package guard_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/opencrafts-io/interventoria/internal/credential"
	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/permissions"
	"github.com/opencrafts-io/interventoria/internal/permissions/mocks"
	"github.com/opencrafts-io/interventoria/internal/policy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validCredential() credential.Credential {
	return credential.Credential{
		Raw:       "a.b.c",
		SubjectID: "3",
		RoleClaim: "interventor",
		Role:      credential.RoleInterventor,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

type recorder struct {
	decisions []guard.Decision
}

func (r *recorder) ObserveDecision(_ context.Context, d guard.Decision) {
	r.decisions = append(r.decisions, d)
}

func newGuard(t *testing.T, fetcher permissions.Fetcher, observers ...guard.Observer) *guard.Guard {
	t.Helper()
	registry := policy.NewRegistry(fetcher, discardLogger())
	provider := func(cred credential.Credential) guard.Policy { return registry.Engine(cred) }
	return guard.New(provider, "/login", discardLogger(), observers...)
}

func rawGrants(raw ...permissions.RawGrant) permissions.GrantSet {
	return permissions.Normalize(raw, nil)
}

func TestExpiredCredentialRedirects(t *testing.T) {
	ctrl := gomock.NewController(t)
	rec := &recorder{}
	g := newGuard(t, mocks.NewMockFetcher(ctrl), rec)

	expired := validCredential()
	expired.ExpiresAt = time.Now().Add(-time.Second)

	page := g.Open(credential.Fixed{Credential: expired}, permissions.ResourceProyectos, "/proyectos?estado=activo")
	state := page.Check(context.Background())

	assert.Equal(t, guard.StateRedirecting, state)
	assert.Equal(t, []guard.State{guard.StateChecking, guard.StateRedirecting}, page.Trail())
	assert.NotContains(t, page.Trail(), guard.StateAwaitingPolicy)
	assert.Equal(t, "/login?next=%2Fproyectos%3Festado%3Dactivo", page.RedirectURL())
	require.Len(t, rec.decisions, 1)
	assert.Equal(t, guard.StateRedirecting, rec.decisions[0].State)
}

func TestMissingEntryIsAuthorized(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
		Return(rawGrants(permissions.RawGrant{Recurso: "proyectos", Acciones: []string{"leer"}}), nil)

	page := newGuard(t, fetcher).Open(credential.Fixed{Credential: validCredential()}, permissions.ResourceReportes, "/reportes")

	assert.Equal(t, guard.StateAuthorized, page.Check(context.Background()))
	assert.Equal(t,
		[]guard.State{guard.StateChecking, guard.StateAwaitingPolicy, guard.StateAuthorized},
		page.Trail(),
	)
}

func TestEmptyGrantIsDenied(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
		Return(rawGrants(permissions.RawGrant{Recurso: "reportes", Acciones: []string{}}), nil)

	rec := &recorder{}
	page := newGuard(t, fetcher, rec).Open(credential.Fixed{Credential: validCredential()}, permissions.ResourceReportes, "/reportes")

	assert.Equal(t, guard.StateDenied, page.Check(context.Background()))
	require.Len(t, rec.decisions, 1)
	assert.Equal(t, "interventor", rec.decisions[0].RoleClaim)
	assert.Equal(t, permissions.ResourceReportes, rec.decisions[0].Resource)
}

func TestFailedFirstLoadIsUnverifiedAndRecovers(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	gomock.InOrder(
		fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
			Return(permissions.GrantSet{}, &permissions.FetchError{Reason: "request failed"}),
		fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
			Return(rawGrants(permissions.RawGrant{Recurso: "archivo", Acciones: []string{"leer"}}), nil),
	)

	page := newGuard(t, fetcher).Open(credential.Fixed{Credential: validCredential()}, permissions.ResourceArchivo, "/archivo")

	assert.Equal(t, guard.StateUnverified, page.Check(context.Background()))
	assert.ErrorIs(t, page.Err(), permissions.ErrPermissionFetch)

	assert.Equal(t, guard.StateAuthorized, page.Refresh(context.Background()))
	assert.NoError(t, page.Err())
	assert.Equal(t, []guard.State{
		guard.StateChecking,
		guard.StateAwaitingPolicy,
		guard.StateUnverified,
		guard.StateAwaitingPolicy,
		guard.StateAuthorized,
	}, page.Trail())
}

func TestRefreshCanRevokeAccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	gomock.InOrder(
		fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
			Return(rawGrants(permissions.RawGrant{Recurso: "personal", Acciones: []string{"leer"}}), nil),
		fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
			Return(rawGrants(permissions.RawGrant{Recurso: "personal"}), nil),
	)

	page := newGuard(t, fetcher).Open(credential.Fixed{Credential: validCredential()}, permissions.ResourcePersonal, "/personal")

	assert.Equal(t, guard.StateAuthorized, page.Check(context.Background()))
	assert.Equal(t, guard.StateDenied, page.Refresh(context.Background()))
}

func TestStaleGrantsStillDecide(t *testing.T) {
	ctrl := gomock.NewController(t)
	fetcher := mocks.NewMockFetcher(ctrl)
	gomock.InOrder(
		fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
			Return(rawGrants(permissions.RawGrant{Recurso: "usuarios", Acciones: []string{"leer"}}), nil),
		fetcher.EXPECT().FetchGrants(gomock.Any(), gomock.Any()).
			Return(permissions.GrantSet{}, &permissions.FetchError{Status: 503, Reason: "unavailable"}),
	)

	page := newGuard(t, fetcher).Open(credential.Fixed{Credential: validCredential()}, permissions.ResourceUsuarios, "/usuarios")
	require.Equal(t, guard.StateAuthorized, page.Check(context.Background()))

	assert.Equal(t, guard.StateAuthorized, page.Refresh(context.Background()))
	assert.ErrorIs(t, page.Err(), permissions.ErrPermissionFetch)
}

func TestRefreshIgnoredBeforeDecision(t *testing.T) {
	ctrl := gomock.NewController(t)
	page := newGuard(t, mocks.NewMockFetcher(ctrl)).Open(credential.Fixed{}, permissions.ResourceUsuarios, "")

	assert.Equal(t, guard.StateChecking, page.Refresh(context.Background()))
	assert.Equal(t, guard.StateRedirecting, page.Check(context.Background()))
	assert.Equal(t, guard.StateRedirecting, page.Refresh(context.Background()))
	assert.Equal(t, "/login", page.RedirectURL())
}

func TestTerminalStates(t *testing.T) {
	assert.False(t, guard.StateChecking.Terminal())
	assert.False(t, guard.StateAwaitingPolicy.Terminal())
	assert.True(t, guard.StateRedirecting.Terminal())
	assert.True(t, guard.StateAuthorized.Terminal())
	assert.True(t, guard.StateDenied.Terminal())
	assert.True(t, guard.StateUnverified.Terminal())
}
