package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/thumb-hub/internal/cache"
	"github.com/any-hub/thumb-hub/internal/fetch"
	"github.com/any-hub/thumb-hub/internal/server"
	"github.com/any-hub/thumb-hub/internal/worker"
)

const thumbETag = `W/"0cc175b9c0f1b6a831c399e269772661"`

func TestHandlerServesMissThenHit(t *testing.T) {
	env := newProxyEnv(t)

	first := env.get(t, "/thumb/a.png", nil)
	assert.Equal(t, http.StatusOK, first.status)
	assert.Equal(t, "miss", first.header.Get(CacheHeader))
	assert.Equal(t, "jpeg:/thumb/a.png", first.body)

	second := env.get(t, "/thumb/a.png", nil)
	assert.Equal(t, http.StatusOK, second.status)
	assert.Equal(t, "hit", second.header.Get(CacheHeader))
	assert.Equal(t, "jpeg:/thumb/a.png", second.body)
	assert.Equal(t, "image/jpeg", second.header.Get("Content-Type"))

	assert.EqualValues(t, 1, env.upstreamHits.Load())
}

func TestHandlerAnswersNotModifiedFromCache(t *testing.T) {
	env := newProxyEnv(t)
	env.get(t, "/thumb/a.png", nil)

	resp := env.get(t, "/thumb/a.png", http.Header{"If-None-Match": {thumbETag}})
	assert.Equal(t, http.StatusNotModified, resp.status)
	assert.Equal(t, thumbETag, resp.header.Get("ETag"))
	assert.Empty(t, resp.body)
	assert.EqualValues(t, 1, env.upstreamHits.Load())
}

func TestHandlerNeverForwardsConditionalHeadersOnMiss(t *testing.T) {
	env := newProxyEnv(t)

	resp := env.get(t, "/thumb/b.png", http.Header{"If-None-Match": {thumbETag}})
	// upstream saw no validator so it answered 200; the edge then answers 304 itself
	assert.Equal(t, http.StatusNotModified, resp.status)
	assert.Empty(t, env.lastIfNoneMatch.Load())

	again := env.get(t, "/thumb/b.png", nil)
	assert.Equal(t, http.StatusOK, again.status)
	assert.Equal(t, "hit", again.header.Get(CacheHeader))
	assert.Equal(t, "jpeg:/thumb/b.png", again.body)
}

func TestHandlerPassesThroughOtherPaths(t *testing.T) {
	env := newProxyEnv(t)

	for i := 0; i < 2; i++ {
		resp := env.get(t, "/file/a.png", nil)
		assert.Equal(t, http.StatusOK, resp.status)
		assert.Equal(t, "bypass", resp.header.Get(CacheHeader))
	}
	assert.EqualValues(t, 2, env.upstreamHits.Load())
}

func TestHandlerFailsNonGETUnderPrefix(t *testing.T) {
	env := newProxyEnv(t)

	req := httptest.NewRequest(http.MethodPost, "http://edge.local/thumb/a.png", nil)
	req.Header.Set(server.ClientHeader, "tab-1")
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)

	// the store refuses non-GET entries and the error is not swallowed
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "intercept_failed")
	assert.EqualValues(t, 1, env.upstreamHits.Load())
}

func TestHandlerReturnsBadGatewayWhenWorkerFails(t *testing.T) {
	logger := quietLogger()
	storage, err := cache.NewStorage(t.TempDir())
	require.NoError(t, err)
	w, err := worker.New(worker.Options{
		Storage: storage,
		Network: fetch.FetcherFunc(func(context.Context, *fetch.Request) (*fetch.Response, error) {
			return nil, errors.New("connection refused")
		}),
		Logger: logger,
	})
	require.NoError(t, err)
	registration := worker.NewRegistration(logger)
	require.NoError(t, registration.Register(context.Background(), w))

	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Registration: registration,
		Proxy:        NewHandler(registration, NewForwarder(nil, logger), logger),
		ListenPort:   5000,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://edge.local/thumb/a.png", nil)
	req.Header.Set(server.ClientHeader, "tab-1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, string(body), "intercept_failed")
}

type proxyEnv struct {
	app             *fiber.App
	upstreamHits    atomic.Int64
	lastIfNoneMatch atomic.Value
}

type proxyResult struct {
	status int
	header http.Header
	body   string
}

func newProxyEnv(t *testing.T) *proxyEnv {
	t.Helper()

	env := &proxyEnv{}
	env.lastIfNoneMatch.Store("")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.upstreamHits.Add(1)
		env.lastIfNoneMatch.Store(r.Header.Get("If-None-Match"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("ETag", thumbETag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = io.WriteString(w, "jpeg:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	base, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	network, err := fetch.NewHTTPFetcher(upstream.Client(), base)
	require.NoError(t, err)

	logger := quietLogger()
	storage, err := cache.NewStorage(t.TempDir())
	require.NoError(t, err)
	w, err := worker.New(worker.Options{Storage: storage, Network: network, Logger: logger})
	require.NoError(t, err)
	registration := worker.NewRegistration(logger)
	require.NoError(t, registration.Register(context.Background(), w))

	passThrough := NewForwarder(NewNetworkHandler(network, logger), logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Registration: registration,
		Proxy:        NewHandler(registration, passThrough, logger),
		ListenPort:   5000,
	})
	require.NoError(t, err)
	env.app = app
	return env
}

func (e *proxyEnv) get(t *testing.T, path string, header http.Header) proxyResult {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "http://edge.local"+path, nil)
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set(server.ClientHeader, "tab-1")
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return proxyResult{status: resp.StatusCode, header: resp.Header, body: string(body)}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
