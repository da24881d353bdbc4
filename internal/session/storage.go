package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrStorageUnavailable is returned by storages that cannot persist values,
// e.g. a client that refuses cookies.
var ErrStorageUnavailable = errors.New("session storage unavailable")

// Storage is the client-local key/value store holding the session id.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// MemoryStorage keeps values in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// HeaderName carries the session id for clients that keep it in their own
// local storage.
const HeaderName = "X-Session-Id"

const cookieMaxAge = 365 * 24 * time.Hour

// HTTPStorage reads the session id from the request header or cookie and
// persists new ids as a cookie plus a response header.
type HTTPStorage struct {
	w      http.ResponseWriter
	r      *http.Request
	secure bool
}

func NewHTTPStorage(w http.ResponseWriter, r *http.Request, secure bool) *HTTPStorage {
	return &HTTPStorage{w: w, r: r, secure: secure}
}

func (h *HTTPStorage) Get(_ context.Context, key string) (string, bool, error) {
	if h == nil || h.r == nil {
		return "", false, ErrStorageUnavailable
	}
	if v := strings.TrimSpace(h.r.Header.Get(HeaderName)); v != "" {
		return v, true, nil
	}
	cookie, err := h.r.Cookie(key)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", false, nil
		}
		return "", false, err
	}
	return cookie.Value, cookie.Value != "", nil
}

func (h *HTTPStorage) Set(_ context.Context, key, value string) error {
	if h == nil || h.w == nil {
		return ErrStorageUnavailable
	}
	http.SetCookie(h.w, &http.Cookie{
		Name:     key,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.w.Header().Set(HeaderName, value)
	return nil
}
