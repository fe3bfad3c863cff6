package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/thumb-hub/internal/fetch"
)

// Registration 扮演宿主角色：驱动 install → activate，维护 active/waiting 版本，
// 并把每个客户端的请求分发给控制它的 Worker。
type Registration struct {
	logger  *logrus.Logger
	clients *Clients

	// lifecycle 串行化 Register/Detach 触发的状态迁移。
	lifecycle sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

// NewRegistration 创建空注册表，logger 为空时使用 logrus 标准 logger。
func NewRegistration(logger *logrus.Logger) *Registration {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registration{
		logger:  logger,
		clients: NewClients(),
	}
}

// Register 安装新版本。安装时调用了 SkipWaiting 或当前没有 active 版本时立即激活，
// 否则进入 waiting，直到旧版本不再控制任何客户端。
func (r *Registration) Register(ctx context.Context, w *Worker) error {
	if w == nil {
		return errors.New("worker required")
	}
	if w.State() != StateParsed {
		return fmt.Errorf("worker %s already registered (state %s)", w.Version(), w.State())
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	w.setState(StateInstalling)
	ev := &InstallEvent{}
	if err := w.Install(ctx, ev); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install %s: %w", w.Version(), err)
	}
	if err := ev.settle(ctx); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install %s: %w", w.Version(), err)
	}
	w.setState(StateInstalled)

	r.mu.Lock()
	previousWaiting := r.waiting
	r.waiting = w
	hasActive := r.active != nil
	r.mu.Unlock()
	if previousWaiting != nil {
		previousWaiting.setState(StateRedundant)
	}

	r.logger.WithFields(logrus.Fields{
		"action":       "worker_installed",
		"version":      w.Version(),
		"skip_waiting": ev.skipsWaiting(),
	}).Info("worker installed")

	if ev.skipsWaiting() || !hasActive || r.clients.ControlledBy(r.Active()) == 0 {
		return r.activate(ctx, w)
	}
	return nil
}

func (r *Registration) activate(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	previous := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	r.mu.Unlock()
	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}

	w.setState(StateActivating)
	ev := &ActivateEvent{clients: r.clients}
	if err := w.Activate(ctx, ev); err != nil {
		return fmt.Errorf("activate %s: %w", w.Version(), err)
	}
	if err := ev.settle(ctx); err != nil {
		return fmt.Errorf("activate %s: %w", w.Version(), err)
	}
	w.setState(StateActivated)

	fields := logrus.Fields{
		"action":     "worker_activated",
		"version":    w.Version(),
		"cache_name": w.CacheName(),
		"clients":    r.clients.ControlledBy(w),
	}
	if previous != nil && previous != w {
		fields["superseded"] = previous.Version()
	}
	r.logger.WithFields(fields).Info("worker activated")
	return nil
}

// Attach 登记一个新打开的客户端；新客户端由当前 active 版本控制。
func (r *Registration) Attach(clientID string) bool {
	return r.clients.Attach(clientID, r.Active())
}

// Detach 关闭客户端；若 active 版本已无客户端且存在 waiting 版本，则激活它。
func (r *Registration) Detach(ctx context.Context, clientID string) error {
	r.clients.Detach(clientID)
	return r.promoteWaiting(ctx)
}

// PruneIdle 回收超过 idle 未活动的客户端，效果等同逐个 Detach。
func (r *Registration) PruneIdle(ctx context.Context, idle time.Duration) (int, error) {
	removed := r.clients.Prune(idle)
	if len(removed) == 0 {
		return 0, nil
	}
	r.logger.WithFields(logrus.Fields{
		"action":  "clients_pruned",
		"removed": len(removed),
		"idle":    idle.String(),
	}).Debug("idle clients pruned")
	return len(removed), r.promoteWaiting(ctx)
}

func (r *Registration) promoteWaiting(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	waiting := r.Waiting()
	if waiting == nil {
		return nil
	}
	if active := r.Active(); active != nil && r.clients.ControlledBy(active) > 0 {
		return nil
	}
	return r.activate(ctx, waiting)
}

// Dispatch 将请求交给控制 clientID 的 Worker；未受控的客户端一律 PassThrough。
func (r *Registration) Dispatch(ctx context.Context, clientID string, req *fetch.Request) (Result, error) {
	controller := r.clients.Controller(clientID)
	if controller == nil {
		return PassThrough(), nil
	}
	return controller.Fetch(ctx, req)
}

// Active 返回当前 active 版本。
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting 返回已安装但尚未激活的版本。
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Clients 返回客户端集合。
func (r *Registration) Clients() *Clients {
	return r.clients
}
