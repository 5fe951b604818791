package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) Store {
	t.Helper()
	store := NewMemoryStore()
	store.Publish("alpha", 30001)
	store.Publish("beta", 30002)
	return store
}

func TestDirectoryJSON(t *testing.T) {
	h := Handler(seededStore(t))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]int{"alpha": 30001, "beta": 30002}, got)
}

func TestDirectoryHTML(t *testing.T) {
	h := Handler(seededStore(t))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "relay.example.org:30000"
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, `http://relay.example.org:30001`)
	assert.Contains(t, body, `http://relay.example.org:30002`)
	assert.Contains(t, body, "alpha")
	assert.Contains(t, body, "beta")
}

func TestDirectoryHTMLEmpty(t *testing.T) {
	h := Handler(NewMemoryStore())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No proxies available yet")
}

func TestDirectoryNotFound(t *testing.T) {
	h := Handler(seededStore(t))
	req := httptest.NewRequest(http.MethodGet, "/anything-else", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestHostFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = ""
	assert.Equal(t, DefaultHost, requestHost(req))

	req.Host = "example.com:30000"
	assert.Equal(t, "example.com", requestHost(req))

	req.Host = "example.com"
	assert.Equal(t, "example.com", requestHost(req))

	req.Host = "[::1]:30000"
	assert.Equal(t, "::1", requestHost(req))
}
