package worker

import "github.com/any-hub/thumb-hub/internal/fetch"

// Source 标记被拦截响应的来源。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Result 是一次拦截的结果：要么带响应的 Intercepted，要么 PassThrough 交由默认处理。
type Result struct {
	response *fetch.Response
	source   Source
}

// Intercepted 构造带响应的结果。
func Intercepted(resp *fetch.Response, source Source) Result {
	return Result{response: resp, source: source}
}

// PassThrough 表示拦截器不参与本次请求。
func PassThrough() Result {
	return Result{}
}

// Intercepted reports whether the worker produced a response.
func (r Result) Intercepted() bool {
	return r.response != nil
}

// Response 返回拦截产生的响应，PassThrough 时为 nil。
func (r Result) Response() *fetch.Response {
	return r.response
}

// Source 返回响应来源，PassThrough 时为空。
func (r Result) Source() Source {
	return r.source
}
