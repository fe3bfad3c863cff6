package main

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/cache"
	"github.com/any-hub/thumb-hub/internal/config"
	"github.com/any-hub/thumb-hub/internal/fetch"
	"github.com/any-hub/thumb-hub/internal/logging"
	"github.com/any-hub/thumb-hub/internal/origin"
	"github.com/any-hub/thumb-hub/internal/proxy"
	"github.com/any-hub/thumb-hub/internal/server"
	"github.com/any-hub/thumb-hub/internal/server/routes"
	"github.com/any-hub/thumb-hub/internal/worker"
)

// service 持有进程级共享实例：缓存存储、Worker 注册表与 Fiber 应用。
type service struct {
	cfg          *config.Config
	storage      cache.Storage
	registration *worker.Registration
	passThrough  *passThroughSlot
	app          *fiber.App
	clientIdle   atomic.Int64
}

func newService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	storage, err := cache.NewStorage(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	network, passThrough, err := buildNetwork(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	w, err := buildWorker(cfg, storage, network, logger)
	if err != nil {
		return nil, err
	}

	registration := worker.NewRegistration(logger)
	registration.Clients().SetLimit(cfg.Global.MaxClients)
	if err := registration.Register(ctx, w); err != nil {
		return nil, fmt.Errorf("注册 Worker 失败: %w", err)
	}

	slot := &passThroughSlot{handler: passThrough}
	forwarder := proxy.NewForwarder(slot, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Registration: registration,
		Proxy:        proxy.NewHandler(registration, forwarder, logger),
		ListenPort:   cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterWorkerRoutes(app, registration, storage)

	svc := &service{
		cfg:          cfg,
		storage:      storage,
		registration: registration,
		passThrough:  slot,
		app:          app,
	}
	svc.clientIdle.Store(int64(cfg.Global.ClientIdleTimeout.DurationValue()))
	return svc, nil
}

// buildNetwork 依据模式返回 Worker 的网络原语以及未拦截请求的默认处理。
func buildNetwork(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (fetch.Fetcher, server.ProxyHandler, error) {
	if cfg.Mode() == config.ModeOrigin {
		thumbs, browser, err := origin.NewFromConfig(ctx, cfg.Global, cfg.Origin, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化源站失败: %w", err)
		}
		return thumbs, origin.NewHandler(thumbs, browser, logger), nil
	}

	upstream, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		return nil, nil, fmt.Errorf("解析上游地址失败: %w", err)
	}
	network, err := fetch.NewHTTPFetcher(server.NewUpstreamClient(cfg), upstream)
	if err != nil {
		return nil, nil, err
	}
	return network, proxy.NewNetworkHandler(network, logger), nil
}

func buildWorker(cfg *config.Config, storage cache.Storage, network fetch.Fetcher, logger *logrus.Logger) (*worker.Worker, error) {
	w, err := worker.New(worker.Options{
		Version:    cfg.Global.WorkerVersion,
		CacheName:  cfg.Global.CacheName,
		PathPrefix: cfg.Global.PathPrefix,
		Storage:    storage,
		Network:    network,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("构建 Worker 失败: %w", err)
	}
	return w, nil
}

// reload 读取新配置并注册新的 Worker 版本；监听端口与缓存目录需要重启才能生效。
func (s *service) reload(ctx context.Context, configPath string, logger *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fields := logging.BaseFields("reload", configPath)
	if cfg.Global.ListenPort != s.cfg.Global.ListenPort || cfg.Global.StoragePath != s.cfg.Global.StoragePath {
		fields["listen_port"] = s.cfg.Global.ListenPort
		fields["storage_path"] = s.cfg.Global.StoragePath
		logger.WithFields(fields).Warn("ListenPort/StoragePath 变更需重启进程，本次忽略")
	}

	s.registration.Clients().SetLimit(cfg.Global.MaxClients)
	s.clientIdle.Store(int64(cfg.Global.ClientIdleTimeout.DurationValue()))

	networkChanged := networkConfigChanged(s.cfg, cfg)
	if active := s.registration.Active(); active != nil && !networkChanged &&
		active.Version() == cfg.Global.WorkerVersion &&
		active.CacheName() == cfg.Global.CacheName &&
		active.PathPrefix() == cfg.Global.PathPrefix {
		s.cfg.Global.ClientIdleTimeout = cfg.Global.ClientIdleTimeout
		s.cfg.Global.MaxClients = cfg.Global.MaxClients
		fields["worker_version"] = active.Version()
		logger.WithFields(fields).Info("Worker 未变化，跳过更新")
		return nil
	}

	network, passThrough, err := buildNetwork(ctx, cfg, logger)
	if err != nil {
		return err
	}
	w, err := buildWorker(cfg, s.storage, network, logger)
	if err != nil {
		return err
	}
	if err := s.registration.Register(ctx, w); err != nil {
		return err
	}
	s.passThrough.set(passThrough)
	listenPort, storagePath := s.cfg.Global.ListenPort, s.cfg.Global.StoragePath
	s.cfg = cfg
	s.cfg.Global.ListenPort, s.cfg.Global.StoragePath = listenPort, storagePath

	fields["worker_version"] = w.Version()
	fields["network_changed"] = networkChanged
	fields["state"] = string(w.State())
	fields["mode"] = cfg.Mode()
	logger.WithFields(fields).Info("Worker 已更新")
	return nil
}

// networkConfigChanged 判断上游地址或源站参数是否变化；变化时即使版本号相同也要重建 Worker。
func networkConfigChanged(current, next *config.Config) bool {
	return current.Global.Upstream != next.Global.Upstream ||
		current.Global.UpstreamTimeout != next.Global.UpstreamTimeout ||
		current.Origin != next.Origin
}

// sweepClients 周期性回收长时间未活动的客户端，直到 ctx 结束。
func (s *service) sweepClients(ctx context.Context, logger *logrus.Logger) {
	for {
		idle := time.Duration(s.clientIdle.Load())
		timer := time.NewTimer(sweepInterval(idle))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.registration.PruneIdle(ctx, idle); err != nil {
			logger.WithError(err).WithField("action", "clients_pruned").Warn("回收空闲客户端后激活等待中的 Worker 失败")
		}
	}
}

func sweepInterval(idle time.Duration) time.Duration {
	interval := idle / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (s *service) listen(logger *logrus.Logger) error {
	port := s.cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")
	return s.app.Listen(fmt.Sprintf(":%d", port))
}

// passThroughSlot 允许 reload 时替换默认处理，正在进行的请求不受影响。
type passThroughSlot struct {
	mu      sync.RWMutex
	handler server.ProxyHandler
}

func (p *passThroughSlot) Handle(c fiber.Ctx) error {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()
	return handler.Handle(c)
}

func (p *passThroughSlot) set(handler server.ProxyHandler) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}
