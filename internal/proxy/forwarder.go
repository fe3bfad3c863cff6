package proxy

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/fetch"
	"github.com/any-hub/thumb-hub/internal/server"
)

// Forwarder 承担 PassThrough 的默认处理：调用注入的 handler，并隔离其 panic。
type Forwarder struct {
	handler server.ProxyHandler
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder，handler 不能为空。
func NewForwarder(handler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Forwarder{
		handler: handler,
		logger:  logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx) error {
	requestID := server.RequestID(c)
	c.Set(CacheHeader, "bypass")
	if f.handler == nil {
		f.logError(c, "passthrough_unavailable", errors.New("no pass-through handler configured"), requestID)
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "passthrough_unavailable"})
	}
	return f.invokeHandler(c, requestID)
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, r, requestID)
		}
	}()
	return f.handler.Handle(c)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, recovered interface{}, requestID string) error {
	f.logError(c, "passthrough_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "passthrough_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logError(c fiber.Ctx, code string, err error, requestID string) {
	fields := logrus.Fields{
		"action":    "passthrough",
		"error":     code,
		"client_id": server.ClientID(c),
		"path":      string(c.Request().URI().Path()),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	f.logger.WithFields(fields).Error(err.Error())
}

// NetworkHandler 把未拦截的请求原样交给网络原语（通常是上游 HTTPFetcher）。
type NetworkHandler struct {
	network fetch.Fetcher
	logger  *logrus.Logger
}

// NewNetworkHandler 构造 NetworkHandler。
func NewNetworkHandler(network fetch.Fetcher, logger *logrus.Logger) *NetworkHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NetworkHandler{network: network, logger: logger}
}

// Handle 实现 server.ProxyHandler，上游失败时回复 502。
func (n *NetworkHandler) Handle(c fiber.Ctx) error {
	req, err := server.RequestFromCtx(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	resp, err := n.network.Fetch(c.Context(), req)
	if err != nil {
		n.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "passthrough",
			"error":      "upstream_failed",
			"path":       req.Path(),
			"request_id": server.RequestID(c),
		}).Warn("upstream request failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	return server.WriteResponse(c, resp)
}
