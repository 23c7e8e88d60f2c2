package credential

import (
	"net/http"
	"sync"

	"github.com/gorilla/sessions"
)

// MemoryStorage keeps values in a map. It doubles as a CookieJar that
// records which cookies were expired.
type MemoryStorage struct {
	mu      sync.Mutex
	values  map[string]string
	expired []string
}

func NewMemoryStorage(values map[string]string) *MemoryStorage {
	m := &MemoryStorage{values: make(map[string]string, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MemoryStorage) Get(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStorage) Expire(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, name)
}

// Expired lists the cookie names passed to Expire, in call order.
func (m *MemoryStorage) Expired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.expired...)
}

// SessionStorage stores credentials in a gorilla session bound to a single
// request/response pair. Every mutation is saved immediately so handlers do
// not have to remember to flush it before writing the body.
type SessionStorage struct {
	session *sessions.Session
	w       http.ResponseWriter
	r       *http.Request
	path    string
}

func (s *SessionStorage) Get(key string) string {
	if v, ok := s.session.Values[key].(string); ok {
		return v
	}
	return ""
}

func (s *SessionStorage) Set(key, value string) error {
	s.session.Values[key] = value
	return s.session.Save(s.r, s.w)
}

func (s *SessionStorage) Delete(key string) error {
	delete(s.session.Values, key)
	return s.session.Save(s.r, s.w)
}

func (s *SessionStorage) Expire(name string) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     s.path,
		MaxAge:   -1,
		HttpOnly: true,
	})
}
