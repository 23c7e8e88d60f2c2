package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	// KeyAuthToken is the key new credentials are written under.
	KeyAuthToken = "auth_token"
	// KeyLegacyToken is still honoured on read for sessions created by older clients.
	KeyLegacyToken = "token"
)

var readOrder = []string{KeyAuthToken, KeyLegacyToken}

// Storage is the persistent key/value surface a credential lives in.
type Storage interface {
	Get(key string) string
	Set(key, value string) error
	Delete(key string) error
}

// CookieJar expires the cookies mirrored for cross-context sign-out.
type CookieJar interface {
	Expire(name string)
}

// Reader is the read side of the token store consumed by the policy engine.
type Reader interface {
	ReadCredential() (Credential, bool)
}

type Store struct {
	storage Storage
	cookies CookieJar
	logger  *slog.Logger
	now     func() time.Time
}

type StoreOption func(*Store)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithCookies sets the cookie jar cleared on sign-out.
func WithCookies(jar CookieJar) StoreOption {
	return func(s *Store) { s.cookies = jar }
}

func NewStore(storage Storage, logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadCredential returns the first stored credential that decodes and has not
// expired. Failures are never surfaced, an undecodable token is simply absent.
func (s *Store) ReadCredential() (Credential, bool) {
	now := s.now()
	for _, key := range readOrder {
		raw := s.storage.Get(key)
		if raw == "" {
			continue
		}

		cred, err := Decode(raw, now)
		if err != nil {
			s.logger.Debug("Ignoring stored credential",
				slog.String("key", key),
				slog.Bool("expired", errors.Is(err, ErrCredentialExpired)),
				slog.Any("error", err),
			)
			continue
		}
		return cred, true
	}
	return Credential{}, false
}

func (s *Store) IsAuthenticated() bool {
	_, ok := s.ReadCredential()
	return ok
}

// CurrentRoleClaim returns the raw role claim or "" when not signed in.
func (s *Store) CurrentRoleClaim() string {
	cred, ok := s.ReadCredential()
	if !ok {
		return ""
	}
	return cred.RoleClaim
}

// WriteCredential stores a freshly issued token under KeyAuthToken only and
// drops any legacy copy so reads cannot resurrect an older session.
func (s *Store) WriteCredential(raw string) (Credential, error) {
	cred, err := Decode(raw, s.now())
	if err != nil {
		return Credential{}, err
	}

	if err := s.storage.Set(KeyAuthToken, raw); err != nil {
		return Credential{}, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := s.storage.Delete(KeyLegacyToken); err != nil {
		return Credential{}, fmt.Errorf("failed to remove legacy credential: %w", err)
	}
	return cred, nil
}

// ClearCredential removes both storage keys and expires the mirror cookies.
func (s *Store) ClearCredential() error {
	var errs []error
	for _, key := range readOrder {
		if err := s.storage.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %q: %w", key, err))
		}
	}

	if s.cookies != nil {
		for _, name := range readOrder {
			s.cookies.Expire(name)
		}
	}
	return errors.Join(errs...)
}

// Fixed is a Reader that always answers with the same credential, re-checking
// its expiry on every read.
type Fixed struct {
	Credential Credential
	Now        func() time.Time
}

func (f Fixed) ReadCredential() (Credential, bool) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	if !f.Credential.Valid(now()) {
		return Credential{}, false
	}
	return f.Credential, true
}
