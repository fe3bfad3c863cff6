package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPFetcher 把请求描述映射到上游地址（保留 path + query）后通过共享 http.Client 发出。
type HTTPFetcher struct {
	client   *http.Client
	upstream *url.URL
}

// NewHTTPFetcher 构造网络原语；upstream 必须是带 scheme/host 的绝对地址。
func NewHTTPFetcher(client *http.Client, upstream *url.URL) (*HTTPFetcher, error) {
	if client == nil {
		return nil, errors.New("http client required")
	}
	if upstream == nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, errors.New("absolute upstream url required")
	}
	return &HTTPFetcher{client: client, upstream: upstream}, nil
}

// Fetch 发出上游请求。网络错误直接返回，不会转换成兜底响应。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request required")
	}
	target := f.Resolve(req.URL)

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	outbound, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	CopyHeaders(outbound.Header, req.Header)
	outbound.Header.Del("Accept-Encoding")
	outbound.Host = target.Host
	if host := req.URL.Host; host != "" {
		outbound.Header.Set("X-Forwarded-Host", host)
	}
	if req.URL.Scheme != "" {
		outbound.Header.Set("X-Forwarded-Proto", req.URL.Scheme)
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, fmt.Errorf("upstream request %s: %w", target.Redacted(), err)
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       resp.Body,
	}, nil
}

// Resolve 将请求的 path/query 拼接到上游基地址上。
func (f *HTTPFetcher) Resolve(source *url.URL) *url.URL {
	relative := &url.URL{Path: source.Path, RawPath: source.RawPath, RawQuery: source.RawQuery}
	if relative.Path == "" {
		relative.Path = "/"
	}
	return f.upstream.ResolveReference(relative)
}
