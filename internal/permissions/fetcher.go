package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/opencrafts-io/interventoria/internal/backend"
	"github.com/opencrafts-io/interventoria/internal/credential"
)

// MePath is the backend endpoint listing the caller's grants.
const MePath = "/api/permisos/me"

//go:generate mockgen -source=fetcher.go -destination=mocks/mock_fetcher.go -package=mocks

// Fetcher loads the grant set of the subject behind a credential.
type Fetcher interface {
	FetchGrants(ctx context.Context, cred credential.Credential) (GrantSet, error)
}

// HTTPFetcher reads grants from the backend permissions endpoint. Every
// failure comes back as a *FetchError.
type HTTPFetcher struct {
	client *backend.Client
	logger *slog.Logger
}

func NewHTTPFetcher(client *backend.Client, logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{client: client, logger: logger}
}

func (f *HTTPFetcher) FetchGrants(ctx context.Context, cred credential.Credential) (GrantSet, error) {
	resp, err := f.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   MePath,
		Token:  cred.Raw,
	})

	switch {
	case err != nil && resp == nil:
		return GrantSet{}, &FetchError{Reason: "request failed", Err: err}
	case resp.Status < 200 || resp.Status >= 300:
		reason := "unexpected status"
		if err == nil {
			reason = resp.Envelope.Reason()
		}
		return GrantSet{}, &FetchError{Status: resp.Status, Reason: reason}
	case errors.Is(err, backend.ErrMalformedResponse):
		return GrantSet{}, &FetchError{Status: resp.Status, Reason: "malformed response", Err: err}
	case !resp.Envelope.Success:
		return GrantSet{}, &FetchError{Status: resp.Status, Reason: resp.Envelope.Reason()}
	}

	var raw []RawGrant
	if len(resp.Envelope.Data) > 0 && string(resp.Envelope.Data) != "null" {
		if err := json.Unmarshal(resp.Envelope.Data, &raw); err != nil {
			return GrantSet{}, &FetchError{Status: resp.Status, Reason: "malformed grant list", Err: err}
		}
	}

	grants := Normalize(raw, f.logger.With(slog.String("subject", cred.SubjectID)))
	f.logger.Debug("Fetched grants",
		slog.String("subject", cred.SubjectID),
		slog.Int("grants", grants.Len()),
	)
	return grants, nil
}
