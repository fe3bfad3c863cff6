package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/worker"
)

// ProxyHandler describes the component that turns an incoming request into a
// response once the client session is known. It allows injecting fake
// handlers during tests.
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc adapts a function to the ProxyHandler interface.
type ProxyHandlerFunc func(fiber.Ctx) error

// Handle makes ProxyHandlerFunc satisfy ProxyHandler.
func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger       *logrus.Logger
	Registration *worker.Registration
	Proxy        ProxyHandler
	ListenPort   int
}

const (
	// ClientCookie 保存客户端会话 ID，等价于浏览器中的一个 window client。
	ClientCookie = "thumb_hub_client"
	// ClientHeader 允许非浏览器调用方显式声明客户端 ID。
	ClientHeader = "X-Thumb-Hub-Client"

	contextKeyRequestID = "_thumbhub_request_id"
	contextKeyClientID  = "_thumbhub_client_id"
)

// NewApp builds a Fiber application with request-id/client middleware and
// hands every non-diagnostics request to the proxy handler.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registration == nil {
		return nil, errors.New("worker registration is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Proxy.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID，并识别/登记发起请求的客户端。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		clientID, fresh := resolveClientID(c)
		c.Locals(contextKeyClientID, clientID)
		if fresh {
			c.Cookie(&fiber.Cookie{
				Name:     ClientCookie,
				Value:    clientID,
				Path:     "/",
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}

		if opts.Registration.Attach(clientID) {
			fields := logrus.Fields{
				"action":     "client_attached",
				"client_id":  clientID,
				"request_id": reqID,
			}
			if active := opts.Registration.Active(); active != nil {
				fields["controller"] = active.Version()
			}
			opts.Logger.WithFields(fields).Debug("client attached")
		}
		return c.Next()
	}
}

// resolveClientID 依次读取请求头与 Cookie，都缺失时生成新 ID（fresh=true）。
func resolveClientID(c fiber.Ctx) (string, bool) {
	if id := strings.TrimSpace(c.Get(ClientHeader)); id != "" {
		return id, false
	}
	if id := strings.TrimSpace(c.Cookies(ClientCookie)); id != "" {
		return id, false
	}
	return uuid.NewString(), true
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// ClientID returns the client identifier resolved for this request.
func ClientID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyClientID); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
