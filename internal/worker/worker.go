package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/cache"
	"github.com/any-hub/thumb-hub/internal/fetch"
)

const (
	// DefaultCacheName 是缩略图缓存的固定名称。
	DefaultCacheName = "thumbnail-cache-v1"
	// DefaultPathPrefix 是需要拦截的 URL 路径前缀。
	DefaultPathPrefix = "/thumb/"
	// DefaultVersion 在未配置版本号时使用。
	DefaultVersion = "1"
)

// Options 注入 Worker 的依赖与常量配置。
type Options struct {
	Version    string
	CacheName  string
	PathPrefix string
	Storage    cache.Storage
	Network    fetch.Fetcher
	Logger     *logrus.Logger
}

// Worker 是拦截器的一个版本：持有缓存名、路径前缀以及注入的存储/网络原语。
type Worker struct {
	version   string
	cacheName string
	prefix    string
	storage   cache.Storage
	network   fetch.Fetcher
	logger    *logrus.Logger

	// skipWaiting 控制 Install 是否调用 SkipWaiting。
	skipWaiting bool

	mu    sync.RWMutex
	state State
}

// New 校验依赖并构造 Worker，缺省值见 Default* 常量。
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = DefaultVersion
	}
	name := strings.TrimSpace(opts.CacheName)
	if name == "" {
		name = DefaultCacheName
	}
	prefix := opts.PathPrefix
	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		return nil, fmt.Errorf("path prefix must start with '/': %s", prefix)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Worker{
		version:     version,
		cacheName:   name,
		prefix:      prefix,
		storage:     opts.Storage,
		network:     opts.Network,
		logger:      logger,
		skipWaiting: true,
		state:       StateParsed,
	}, nil
}

// Version 返回 Worker 版本号。
func (w *Worker) Version() string { return w.version }

// CacheName 返回 Worker 使用的缓存名称。
func (w *Worker) CacheName() string { return w.cacheName }

// PathPrefix 返回拦截的路径前缀。
func (w *Worker) PathPrefix() string { return w.prefix }

// Matches reports whether the request path falls under the intercepted prefix.
func (w *Worker) Matches(req *fetch.Request) bool {
	if req == nil {
		return false
	}
	return strings.HasPrefix(req.Path(), w.prefix)
}

// Fetch 执行 cache-aside 读穿：不匹配前缀时 PassThrough；命中直接返回缓存；
// 未命中回源、复制响应、写入副本并返回原响应。任何阶段的错误都原样返回。
func (w *Worker) Fetch(ctx context.Context, req *fetch.Request) (Result, error) {
	if !w.Matches(req) {
		return PassThrough(), nil
	}

	store, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		return Result{}, fmt.Errorf("open cache %s: %w", w.cacheName, err)
	}

	cached, err := store.Match(ctx, req)
	switch {
	case err == nil:
		return Intercepted(cached, SourceCache), nil
	case errors.Is(err, cache.ErrNotFound):
		// miss, fetch from network
	default:
		return Result{}, fmt.Errorf("match %s: %w", req.Key(), err)
	}

	// 填充缓存的回源必须拿到完整响应，条件/范围头会导致 304/206。
	resp, err := w.network.Fetch(ctx, req.WithoutHeaders(fetch.ConditionalHeaders()...))
	if err != nil {
		return Result{}, err
	}

	duplicate, err := resp.Clone()
	if err != nil {
		resp.Close()
		return Result{}, err
	}
	if _, err := store.Put(ctx, req, duplicate); err != nil {
		resp.Close()
		return Result{}, fmt.Errorf("put %s: %w", req.Key(), err)
	}
	return Intercepted(resp, SourceNetwork), nil
}
