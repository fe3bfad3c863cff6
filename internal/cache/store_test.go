package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/thumb-hub/internal/fetch"
)

func TestCachePutAndMatch(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	req := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png")

	header := http.Header{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("ETag", `W/"abc"`)
	entry, err := cache.Put(context.Background(), req, fetch.NewResponse(http.StatusOK, header, []byte("payload")))
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	if entry.SizeBytes != int64(len("payload")) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}

	resp, err := cache.Match(context.Background(), req)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	body, err := resp.ReadAll()
	if err != nil {
		t.Fatalf("read cached body error: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("cached payload mismatch: %s", string(body))
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status mismatch: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("content-type mismatch: %s", got)
	}
	if got := resp.Header.Get("ETag"); got != `W/"abc"` {
		t.Fatalf("etag mismatch: %s", got)
	}
}

func TestCacheMatchMissing(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	_, err := cache.Match(context.Background(), newTestRequest(t, http.MethodGet, "http://edge.local/thumb/missing.png"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCacheKeyIncludesQuery(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	stored := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png?v=1")
	if _, err := cache.Put(context.Background(), stored, fetch.NewResponse(http.StatusOK, nil, []byte("v1"))); err != nil {
		t.Fatalf("put error: %v", err)
	}
	other := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png?v=2")
	if _, err := cache.Match(context.Background(), other); !errors.Is(err, ErrNotFound) {
		t.Fatalf("different query should miss, got %v", err)
	}
}

func TestCachePutLastWriteWins(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	req := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png")
	for _, body := range []string{"first", "second"} {
		if _, err := cache.Put(context.Background(), req, fetch.NewResponse(http.StatusOK, nil, []byte(body))); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
	resp, err := cache.Match(context.Background(), req)
	if err != nil {
		t.Fatalf("match error: %v", err)
	}
	body, _ := resp.ReadAll()
	if string(body) != "second" {
		t.Fatalf("expected last write to win, got %s", string(body))
	}
}

func TestCachePutRejectsNonGET(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	req := newTestRequest(t, http.MethodPost, "http://edge.local/thumb/cat.png")
	_, err := cache.Put(context.Background(), req, fetch.NewResponse(http.StatusOK, nil, []byte("x")))
	if !errors.Is(err, ErrMethodNotCacheable) {
		t.Fatalf("expected ErrMethodNotCacheable, got %v", err)
	}
}

func TestCachePutRejectsPartialResponse(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	req := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png")
	_, err := cache.Put(context.Background(), req, fetch.NewResponse(http.StatusPartialContent, nil, []byte("x")))
	if !errors.Is(err, ErrPartialResponse) {
		t.Fatalf("expected ErrPartialResponse, got %v", err)
	}
}

func TestCacheDeleteAndKeys(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	first := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/a.png")
	second := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/b.png")
	for _, req := range []*fetch.Request{first, second} {
		if _, err := cache.Put(context.Background(), req, fetch.NewResponse(http.StatusOK, nil, []byte("data"))); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}

	keys, err := cache.Keys(context.Background())
	if err != nil {
		t.Fatalf("keys error: %v", err)
	}
	if len(keys) != 2 || keys[0].Key() != first.Key() || keys[1].SizeBytes != 4 {
		t.Fatalf("unexpected keys: %+v", keys)
	}

	if err := cache.Delete(context.Background(), first); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := cache.Match(context.Background(), first); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := cache.Delete(context.Background(), first); err != nil {
		t.Fatalf("deleting a missing entry should succeed: %v", err)
	}
}

func TestStorageOpenCreatesLazilyAndPersists(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "thumbnail-cache-v1")); !os.IsNotExist(err) {
		t.Fatalf("cache directory should not exist before Open")
	}

	cache, err := storage.Open(context.Background(), "thumbnail-cache-v1")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	req := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png")
	if _, err := cache.Put(context.Background(), req, fetch.NewResponse(http.StatusOK, nil, []byte("kept"))); err != nil {
		t.Fatalf("put error: %v", err)
	}

	reopened, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	names, err := reopened.Names(context.Background())
	if err != nil || len(names) != 1 || names[0] != "thumbnail-cache-v1" {
		t.Fatalf("unexpected names: %v (%v)", names, err)
	}
	again, err := reopened.Open(context.Background(), "thumbnail-cache-v1")
	if err != nil {
		t.Fatalf("reopen cache error: %v", err)
	}
	resp, err := again.Match(context.Background(), req)
	if err != nil {
		t.Fatalf("entry should survive restart: %v", err)
	}
	body, _ := resp.ReadAll()
	if string(body) != "kept" {
		t.Fatalf("unexpected body after restart: %s", string(body))
	}
}

func TestStorageRejectsInvalidNames(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	for _, name := range []string{"", "..", "a/b", `a\b`, ".hidden"} {
		if _, err := storage.Open(context.Background(), name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestCachePutHonorsCancelledContext(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	fs, ok := cache.(*fileCache)
	if !ok {
		t.Fatalf("unexpected cache type %T", cache)
	}
	fs.storage.now = func() time.Time { return time.Unix(0, 0) }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/cat.png")
	if _, err := cache.Put(ctx, req, fetch.NewResponse(http.StatusOK, nil, []byte("x"))); err == nil {
		t.Fatalf("expected cancelled put to fail")
	}
	if _, err := os.Stat(fs.entryPath(req.Key())); !os.IsNotExist(err) {
		t.Fatalf("cancelled put must not leave an entry behind")
	}
	leftovers, _ := filepath.Glob(filepath.Join(fs.dir, ".cache-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files should be cleaned up: %v", leftovers)
	}
}

func TestCachePutCleansUpInterruptedStream(t *testing.T) {
	cache := newTestCache(t, "thumbnail-cache-v1")
	fs := cache.(*fileCache)
	req := newTestRequest(t, http.MethodGet, "http://edge.local/thumb/interrupt.png")

	resp := &fetch.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(&flakyReader{payload: []byte("partial_data"), failAfter: 5}),
	}
	if _, err := cache.Put(context.Background(), req, resp); err == nil {
		t.Fatalf("expected error from interrupted reader")
	}
	if _, err := os.Stat(fs.entryPath(req.Key())); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no final entry, got err=%v", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(fs.dir, ".cache-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temporary files should be cleaned up, found %v", leftovers)
	}
	if _, err := cache.Match(context.Background(), req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("interrupted put must stay a miss, got %v", err)
	}
}

type flakyReader struct {
	payload   []byte
	failAfter int
	readBytes int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.readBytes >= f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	remaining := min(f.failAfter-f.readBytes, len(p))
	copy(p[:remaining], f.payload[f.readBytes:f.readBytes+remaining])
	f.readBytes += remaining
	return remaining, nil
}

// newTestCache returns a Cache backed by a temporary directory.
func newTestCache(t *testing.T, name string) Cache {
	t.Helper()
	storage, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	cache, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}
	return cache
}

func newTestRequest(t *testing.T, method, rawURL string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return req
}
