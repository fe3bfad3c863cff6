package origin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/server"
)

// FilePrefix 是原始文件的访问路径前缀。
const FilePrefix = "/file/"

// Handler 是源站模式下的默认处理（PassThrough 落点）：
// 缩略图前缀交给 Fetcher 直接生成，/file/ 流式返回原始对象，
// 其余路径视为目录，返回 JSON 列表（browser 为 nil 时 404）。
type Handler struct {
	thumbs  *Fetcher
	browser *Browser
	logger  *logrus.Logger
}

// NewHandler 构造 Handler。
func NewHandler(thumbs *Fetcher, browser *Browser, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{thumbs: thumbs, browser: browser, logger: logger}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	path := string(c.Request().URI().Path())
	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
	}

	switch {
	case strings.HasPrefix(path, h.thumbs.prefix):
		req, err := server.RequestFromCtx(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
		}
		resp, err := h.thumbs.Fetch(c.Context(), req)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "origin_failed"})
		}
		return server.WriteResponse(c, resp)
	case strings.HasPrefix(path, FilePrefix):
		return h.serveFile(c, strings.TrimPrefix(path, FilePrefix))
	default:
		return h.serveListing(c, path)
	}
}

// serveListing 处理 "/"（支持 ?prefix=，附带公共/预签名地址）与 "/<prefix>"。
func (h *Handler) serveListing(c fiber.Ctx, path string) error {
	if h.browser == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	root := path == "/"
	prefix := path
	if root {
		prefix = c.Query("prefix")
	}

	listing, err := h.browser.List(c.Context(), prefix, root)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "list_failed",
			"bucket":     h.browser.bucket,
			"prefix":     NormalizePrefix(prefix),
			"request_id": server.RequestID(c),
		}).Error("origin listing unavailable")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "list_failed"})
	}
	if !root && len(listing.Entries) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	return c.JSON(listing)
}

func (h *Handler) serveFile(c fiber.Ctx, key string) error {
	if key == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	obj, err := getObject(c.Context(), h.thumbs.objects, h.thumbs.bucket, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "file_fetch_failed",
			"bucket":     h.thumbs.bucket,
			"key":        key,
			"request_id": server.RequestID(c),
		}).Error("origin object unavailable")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "origin_failed"})
	}

	if obj.ContentType != "" {
		c.Set(fiber.HeaderContentType, obj.ContentType)
	}
	c.Status(fiber.StatusOK)
	if c.Method() == http.MethodHead {
		obj.Body.Close()
		c.Response().Header.SetContentLength(int(obj.Size))
		c.Response().SkipBody = true
		return nil
	}
	// fasthttp 在写完后关闭实现了 io.Closer 的 stream。
	if obj.Size > 0 {
		return c.SendStream(obj.Body, int(obj.Size))
	}
	return c.SendStream(obj.Body)
}
