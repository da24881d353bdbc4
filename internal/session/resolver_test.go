package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStorage struct {
	getErr error
	setErr error
}

func (f failingStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, f.getErr
}

func (f failingStorage) Set(context.Context, string, string) error {
	return f.setErr
}

func TestGetOrCreatePersistsAndReuses(t *testing.T) {
	resolver := NewResolver(nil)
	storage := NewMemoryStorage()

	first := resolver.GetOrCreate(context.Background(), storage)
	assert.True(t, first.Created)
	assert.False(t, first.Transient)
	assert.True(t, strings.HasPrefix(string(first.ID), "sess-"))

	second := resolver.GetOrCreate(context.Background(), storage)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateFallsBackToTransient(t *testing.T) {
	resolver := NewResolver(nil)

	res := resolver.GetOrCreate(context.Background(), failingStorage{setErr: ErrStorageUnavailable})
	assert.True(t, res.Transient)
	assert.NotEmpty(t, res.ID)

	res = resolver.GetOrCreate(context.Background(), failingStorage{getErr: errors.New("io"), setErr: ErrStorageUnavailable})
	assert.True(t, res.Transient)

	res = resolver.GetOrCreate(context.Background(), nil)
	assert.True(t, res.Transient)
}

func TestGetOrCreateReplacesMalformedID(t *testing.T) {
	resolver := NewResolver(nil)
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(context.Background(), StorageKey, "bad id with spaces"))

	res := resolver.GetOrCreate(context.Background(), storage)
	assert.True(t, res.Created)
	stored, _, _ := storage.Get(context.Background(), StorageKey)
	assert.Equal(t, string(res.ID), stored)
}

func TestHTTPStorageHeaderWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderName, "S1")
	req.AddCookie(&http.Cookie{Name: StorageKey, Value: "cookie-id"})

	value, ok, err := NewHTTPStorage(httptest.NewRecorder(), req, false).Get(context.Background(), StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "S1", value)
}

func TestHTTPStorageCookieRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resolver := NewResolver(nil)

	res := resolver.GetOrCreate(context.Background(), NewHTTPStorage(rec, req, true))
	require.True(t, res.Created)
	assert.Equal(t, string(res.ID), rec.Header().Get(HeaderName))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, StorageKey, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	again := resolver.GetOrCreate(context.Background(), NewHTTPStorage(httptest.NewRecorder(), next, true))
	assert.Equal(t, res.ID, again.ID)
	assert.False(t, again.Created)
}

func TestClientContextNormalized(t *testing.T) {
	c := ClientContext{SessionID: "S1", TableNo: "  ", CustomerName: ""}.Normalized()
	assert.Equal(t, DefaultTableNo, c.TableNo)
	assert.Equal(t, DefaultCustomerName, c.CustomerName)
	assert.True(t, c.Valid())

	c = ClientContext{SessionID: "S1", TableNo: " 5 ", CustomerName: " Ana "}.Normalized()
	assert.Equal(t, "5", c.TableNo)
	assert.Equal(t, "Ana", c.CustomerName)

	assert.False(t, ClientContext{}.Valid())
}
