package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/any-hub/thumb-hub/internal/fetch"
)

// Storage 管理多个具名缓存，对应浏览器侧的 CacheStorage。
type Storage interface {
	// Open 打开或惰性创建名为 name 的缓存。
	Open(ctx context.Context, name string) (Cache, error)

	// Names 返回已创建的缓存名称（按字典序）。
	Names(ctx context.Context) ([]string, error)
}

// Cache 以请求描述（method + URL）为键保存响应快照。
type Cache interface {
	// Name 返回缓存名称。
	Name() string

	// Match 返回命中的响应，正文可直接流式读取；未命中返回 ErrNotFound。
	Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error)

	// Put 消费 resp 的正文并写入缓存。实现需通过临时文件 + rename 保证单条目原子性。
	Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) (*Entry, error)

	// Delete 删除条目，不存在时不报错。
	Delete(ctx context.Context, req *fetch.Request) error

	// Keys 列出当前缓存中的所有条目元数据。
	Keys(ctx context.Context) ([]Entry, error)
}

// Entry 描述一个已落盘的缓存条目。
type Entry struct {
	Method     string      `json:"method"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	SizeBytes  int64       `json:"size_bytes"`
	StoredAt   time.Time   `json:"stored_at"`
	FilePath   string      `json:"-"`
}

// Key 返回与 fetch.Request.Key 相同格式的缓存键。
func (e Entry) Key() string {
	return e.Method + " " + e.URL
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotCacheable 表示仅 GET 请求可以写入缓存。
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
	// ErrPartialResponse 表示 206 响应不允许写入缓存。
	ErrPartialResponse = errors.New("partial responses cannot be cached")
	// ErrInvalidName 表示缓存名称为空或包含路径分隔符。
	ErrInvalidName = errors.New("invalid cache name")
)
