package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/pkg/lifecycle"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// origin answers every request with its path, prefixed by content.
func origin(content string) http.RoundTripper {
	return roundTripFunc(func(r *http.Request) (*http.Response, error) {
		rec := httptest.NewRecorder()
		fmt.Fprintf(rec, "%s %s", content, r.URL.Path)
		res := rec.Result()
		res.Request = r
		return res, nil
	})
}

func newWorker(t *testing.T, storage cache.Storage, generation string, transport http.RoundTripper, skipWaiting bool) *offlinecache.Worker {
	t.Helper()
	u, _ := url.Parse("https://app.test")
	logger := zerolog.Nop()
	w, err := offlinecache.CreateWorker(offlinecache.Config{
		Origin:             *u,
		Generation:         generation,
		Manifest:           []string{"index.html"},
		Storage:            storage,
		Transport:          transport,
		DisableSkipWaiting: !skipWaiting,
		Logger:             &logger,
	})
	require.NoError(t, err)
	return w
}

func newTestRouter(t *testing.T) (http.Handler, *lifecycle.Host) {
	network := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "network")
	})
	host := lifecycle.NewHost(network, zerolog.Nop())
	t.Cleanup(host.Close)
	return newRouter(host, zerolog.Nop()), host
}

func do(router http.Handler, r *http.Request) (*http.Response, string) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec.Result(), rec.Body.String()
}

func status(t *testing.T, router http.Handler) lifecycle.Status {
	t.Helper()
	res, body := do(router, httptest.NewRequest("GET", "/_offline-cache/status", nil))
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	var s lifecycle.Status
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	return s
}

func TestRouterServesNetworkBeforeInstall(t *testing.T) {
	router, _ := newTestRouter(t)
	_, body := do(router, httptest.NewRequest("GET", "/app.css", nil))
	assert.Equal(t, "network", body)
	assert.Equal(t, lifecycle.Status{}, status(t, router))
}

func TestSkipWaitingMessage(t *testing.T) {
	ctx := t.Context()
	router, host := newTestRouter(t)
	storage := cache.NewMemStorage()

	require.NoError(t, host.Register(ctx, newWorker(t, storage, "v1", origin("one"), true)))
	require.NoError(t, host.Register(ctx, newWorker(t, storage, "v2", origin("two"), false)))
	assert.Equal(t, lifecycle.Status{Active: "v1", Waiting: "v2"}, status(t, router))

	res, body := do(router, httptest.NewRequest("GET", "/about", nil))
	assert.Equal(t, "one /about", body)
	assert.NotEmpty(t, res.Header.Get("Request-Id"))

	res, body = do(router, httptest.NewRequest("POST", "/_offline-cache/message", strings.NewReader(`{"type":"SKIP_WAITING"}`)))
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	var s lifecycle.Status
	require.NoError(t, json.Unmarshal([]byte(body), &s))
	assert.Equal(t, lifecycle.Status{Active: "v2"}, s)

	_, body = do(router, httptest.NewRequest("GET", "/about", nil))
	assert.Equal(t, "two /about", body)

	names, err := storage.Names(ctx)
	require.NoError(t, err)
	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, "-v2"), name)
	}
}

func TestMessageErrors(t *testing.T) {
	ctx := t.Context()
	router, host := newTestRouter(t)
	storage := cache.NewMemStorage()

	res, _ := do(router, httptest.NewRequest("POST", "/_offline-cache/message", strings.NewReader(`{"type":"SKIP_WAITING"}`)))
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	require.NoError(t, host.Register(ctx, newWorker(t, storage, "v1", origin("one"), true)))
	require.NoError(t, host.Register(ctx, newWorker(t, storage, "v2", origin("two"), false)))

	res, _ = do(router, httptest.NewRequest("POST", "/_offline-cache/message", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = do(router, httptest.NewRequest("POST", "/_offline-cache/message", strings.NewReader(`{"type":"CLAIM"}`)))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, lifecycle.Status{Active: "v1", Waiting: "v2"}, status(t, router))
}

func TestControlPathOfOtherHostsIsProxied(t *testing.T) {
	router, _ := newTestRouter(t)
	_, body := do(router, httptest.NewRequest("GET", "https://other.test/_offline-cache/status", nil))
	assert.Equal(t, "network", body)
}
