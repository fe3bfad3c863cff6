package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/thumb-hub/internal/fetch"
)

// RequestFromCtx 把 Fiber 请求转换为 fetch.Request（绝对 URL + 全部请求头 + 正文）。
func RequestFromCtx(c fiber.Ctx) (*fetch.Request, error) {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	rawURL := c.Scheme() + "://" + c.Host() + string(c.Request().RequestURI())
	req, err := fetch.NewRequest(c.Method(), rawURL, header)
	if err != nil {
		return nil, err
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}

// WriteResponse 将 fetch.Response 写回客户端并关闭其正文。
// GET 的 Content-Length 由 fasthttp 根据实际写入长度计算；HEAD 不写正文，长度取自响应头。
func WriteResponse(c fiber.Ctx, resp *fetch.Response) error {
	defer resp.Close()

	for key, values := range resp.Header {
		if fetch.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		if length, err := strconv.ParseInt(resp.Header.Get(fiber.HeaderContentLength), 10, 64); err == nil && length >= 0 {
			c.Response().Header.SetContentLength(int(length))
		}
		return nil
	}
	if resp.Body == nil {
		return nil
	}
	_, err := io.Copy(c.Response().BodyWriter(), resp.Body)
	return err
}
