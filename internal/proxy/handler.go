package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/fetch"
	"github.com/any-hub/thumb-hub/internal/logging"
	"github.com/any-hub/thumb-hub/internal/server"
	"github.com/any-hub/thumb-hub/internal/worker"
)

// CacheHeader 标记响应来源：hit（缓存）、miss（网络并写入缓存）、bypass（未拦截）。
const CacheHeader = "X-Thumb-Hub-Cache"

// Handler 实现 server.ProxyHandler：先交给 Worker 拦截，PassThrough 时走默认处理。
type Handler struct {
	registration *worker.Registration
	passThrough  server.ProxyHandler
	logger       *logrus.Logger
}

// NewHandler 构造 Handler，passThrough 负责未被拦截的请求。
func NewHandler(registration *worker.Registration, passThrough server.ProxyHandler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		registration: registration,
		passThrough:  passThrough,
		logger:       logger,
	}
}

// Handle 执行一次拦截。Worker 返回错误时回复 502，不做降级。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	clientID := server.ClientID(c)

	req, err := server.RequestFromCtx(c)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
		}).Warn("invalid request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	result, err := h.registration.Dispatch(c.Context(), clientID, req)
	if err != nil {
		fields := h.requestFields(clientID, requestID, req, "", false)
		fields["error"] = "intercept_failed"
		h.logger.WithFields(fields).Error(err.Error())
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "intercept_failed"})
	}
	if !result.Intercepted() {
		return h.passThrough.Handle(c)
	}

	resp := result.Response()
	if result.Source() == worker.SourceCache {
		c.Set(CacheHeader, "hit")
	} else {
		c.Set(CacheHeader, "miss")
	}

	if notModified(req, resp) {
		resp.Close()
		copyValidators(c, resp.Header)
		c.Status(fiber.StatusNotModified)
	} else if err := server.WriteResponse(c, resp); err != nil {
		fields := h.requestFields(clientID, requestID, req, string(result.Source()), true)
		h.logger.WithError(err).WithFields(fields).Warn("write response failed")
		return err
	}

	fields := h.requestFields(clientID, requestID, req, string(result.Source()), true)
	fields["status"] = c.Response().StatusCode()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	h.logger.WithFields(fields).Info("proxy complete")
	return nil
}

func (h *Handler) requestFields(clientID, requestID string, req *fetch.Request, source string, intercepted bool) logrus.Fields {
	var version, cacheName string
	if controller := h.registration.Clients().Controller(clientID); controller != nil {
		version = controller.Version()
		cacheName = controller.CacheName()
	}
	fields := logging.RequestFields(version, cacheName, clientID, source, intercepted)
	fields["action"] = "proxy"
	fields["path"] = req.Path()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// notModified 判断客户端缓存的 ETag 是否与本次响应一致。
func notModified(req *fetch.Request, resp *fetch.Response) bool {
	if resp.StatusCode != http.StatusOK || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
		return false
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return false
	}
	for _, candidate := range strings.Split(req.Header.Get("If-None-Match"), ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func copyValidators(c fiber.Ctx, header http.Header) {
	for _, key := range []string{"ETag", "Cache-Control", "Expires", "Last-Modified", "Vary"} {
		if value := header.Get(key); value != "" {
			c.Set(key, value)
		}
	}
}
