package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestKeyIgnoresFragment(t *testing.T) {
	req, err := NewRequest("get", "http://edge.local/thumb/a.png?w=1#frag", nil)
	require.NoError(t, err)

	assert.Equal(t, "GET http://edge.local/thumb/a.png?w=1", req.Key())
	assert.Equal(t, "/thumb/a.png", req.Path())
}

func TestNewRequestRejectsRelativeURL(t *testing.T) {
	_, err := NewRequest(http.MethodGet, "/thumb/a.png", nil)
	assert.Error(t, err)
}

func TestResponseCloneProducesIndependentBodies(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "image/jpeg")
	resp := NewResponse(http.StatusOK, header, []byte("jpeg-bytes"))

	clone, err := resp.Clone()
	require.NoError(t, err)

	original, err := resp.ReadAll()
	require.NoError(t, err)
	copied, err := clone.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, []byte("jpeg-bytes"), original)
	assert.Equal(t, original, copied)
	assert.Equal(t, http.StatusOK, clone.StatusCode)

	clone.Header.Set("X-Mutated", "1")
	assert.Empty(t, resp.Header.Get("X-Mutated"), "clone headers must not alias the original")
}

func TestRequestWithoutHeadersLeavesOriginalIntact(t *testing.T) {
	header := http.Header{}
	header.Set("If-None-Match", `W/"abc"`)
	header.Set("Accept", "image/*")
	req, err := NewRequest(http.MethodGet, "http://edge.local/thumb/a.png", header)
	require.NoError(t, err)

	stripped := req.WithoutHeaders(ConditionalHeaders()...)

	assert.Empty(t, stripped.Header.Get("If-None-Match"))
	assert.Equal(t, "image/*", stripped.Header.Get("Accept"))
	assert.Equal(t, `W/"abc"`, req.Header.Get("If-None-Match"))
	assert.Equal(t, req.Key(), stripped.Key())
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	assert.NotContains(t, dst, "Connection")
	assert.NotContains(t, dst, "Keep-Alive")
	assert.Len(t, dst.Values("X-Test-Header"), 2)
}

func TestHTTPFetcherResolvesOntoUpstream(t *testing.T) {
	var gotPath, gotQuery, gotForwardedHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Connection", "close")
		_, _ = io.WriteString(w, "thumb")
	}))
	defer upstream.Close()

	base, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	fetcher, err := NewHTTPFetcher(upstream.Client(), base)
	require.NoError(t, err)

	req, err := NewRequest(http.MethodGet, "http://edge.local/thumb/cat.png?v=2", nil)
	require.NoError(t, err)

	resp, err := fetcher.Fetch(context.Background(), req)
	require.NoError(t, err)
	body, err := resp.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "thumb", string(body))
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get("Connection"))
	assert.Equal(t, "/thumb/cat.png", gotPath)
	assert.Equal(t, "v=2", gotQuery)
	assert.Equal(t, "edge.local", gotForwardedHost)
}

func TestHTTPFetcherPropagatesNetworkFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	base, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	upstream.Close()

	fetcher, err := NewHTTPFetcher(&http.Client{}, base)
	require.NoError(t, err)
	req, err := NewRequest(http.MethodGet, "http://edge.local/thumb/cat.png", nil)
	require.NoError(t, err)

	resp, err := fetcher.Fetch(context.Background(), req)
	assert.Error(t, err)
	assert.Nil(t, resp)
}
