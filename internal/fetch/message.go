package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request 描述一次被拦截的请求（method + 绝对 URL + 头部），同时也是缓存键的来源。
// Body 仅在透传时转发，不参与缓存键。
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest 解析 rawURL 并构造 Request，method 为空时视为 GET。
func NewRequest(method, rawURL string, header http.Header) (*Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("request url must be absolute: %s", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	if header == nil {
		header = http.Header{}
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    parsed,
		Header: header,
	}, nil
}

// Key 返回 "METHOD URL" 形式的缓存键，片段（#fragment）不参与匹配。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return r.Method + " " + u.String()
}

// Path 返回请求路径，空路径视为 "/"。
func (r *Request) Path() string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// WithoutHeaders 返回删除指定头部后的浅拷贝，原请求不受影响。
func (r *Request) WithoutHeaders(keys ...string) *Request {
	cloned := *r
	cloned.Header = r.Header.Clone()
	if cloned.Header == nil {
		cloned.Header = http.Header{}
	}
	for _, key := range keys {
		cloned.Header.Del(key)
	}
	return &cloned
}

// Response 是一次 HTTP 响应快照：状态码、头部和只能消费一次的正文。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// NewResponse 以内存正文构造 Response，常用于测试和本地生成的内容。
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// Clone 读取完整正文并产出一份独立副本，原响应的正文被替换为等价的内存 Reader。
func (r *Response) Clone() (*Response, error) {
	if r == nil {
		return nil, errors.New("nil response")
	}
	var payload []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		closeErr := r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer response body: %w", err)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close response body: %w", closeErr)
		}
		payload = data
		r.Body = io.NopCloser(bytes.NewReader(payload))
	}
	clone := &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
	}
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	if r.Body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(payload))
	}
	return clone, nil
}

// ReadAll 消费正文并返回全部字节，之后 Body 不可再读。
func (r *Response) ReadAll() ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// Close 释放正文资源，可重复调用。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Fetcher 是网络请求原语：给定请求描述返回响应，失败时返回错误。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
