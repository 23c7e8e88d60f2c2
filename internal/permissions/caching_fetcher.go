package permissions

import (
	"context"
	"log/slog"
	"time"

	"github.com/opencrafts-io/interventoria/internal/credential"
)

// GrantCache stores grant sets keyed by token hash. Entries are also
// indexed by subject so every token of a subject can be evicted at once.
type GrantCache interface {
	Get(ctx context.Context, key string) (GrantSet, bool, error)
	Set(ctx context.Context, subject, key string, grants GrantSet, ttl time.Duration) error
	DeleteSubject(ctx context.Context, subject string) error
}

type bypassKey struct{}

// WithoutCache marks a fetch as an explicit refresh that must reach the backend.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

// Bypassed reports whether ctx was marked with WithoutCache.
func Bypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// CachingFetcher is a read-through cache in front of another Fetcher. Cache
// failures are logged and never fail the fetch.
//
// Entries are keyed by the hash of the token that fetched them. The subject
// claim is unverified, so two tokens naming the same subject never share an
// entry.
type CachingFetcher struct {
	next   Fetcher
	cache  GrantCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachingFetcher(next Fetcher, cache GrantCache, ttl time.Duration, logger *slog.Logger) *CachingFetcher {
	return &CachingFetcher{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (f *CachingFetcher) FetchGrants(ctx context.Context, cred credential.Credential) (GrantSet, error) {
	key := cred.Key()
	if !Bypassed(ctx) {
		grants, ok, err := f.cache.Get(ctx, key)
		if err != nil {
			f.logger.Warn("Failed to read grant cache", slog.String("subject", cred.SubjectID), slog.Any("error", err))
		}
		if ok {
			return grants, nil
		}
	}

	grants, err := f.next.FetchGrants(ctx, cred)
	if err != nil {
		return GrantSet{}, err
	}

	if err := f.cache.Set(ctx, cred.SubjectID, key, grants, f.ttl); err != nil {
		f.logger.Warn("Failed to write grant cache", slog.String("subject", cred.SubjectID), slog.Any("error", err))
	}
	return grants, nil
}

// Invalidate drops the cached grants of every token of a subject.
func (f *CachingFetcher) Invalidate(ctx context.Context, subject string) error {
	return f.cache.DeleteSubject(ctx, subject)
}
