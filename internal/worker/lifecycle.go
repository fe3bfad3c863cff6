package worker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// State 描述 Worker 的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// extendable 收集 WaitUntil 注册的延迟任务，宿主在事件处理结束后依次等待。
type extendable struct {
	mu    sync.Mutex
	waits []func(context.Context) error
}

// WaitUntil 延长事件生命周期，直到 fn 完成；fn 返回错误会让本阶段失败。
func (e *extendable) WaitUntil(fn func(context.Context) error) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.waits = append(e.waits, fn)
	e.mu.Unlock()
}

func (e *extendable) settle(ctx context.Context) error {
	e.mu.Lock()
	waits := append([]func(context.Context) error(nil), e.waits...)
	e.mu.Unlock()
	for _, fn := range waits {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// InstallEvent 在安装阶段交给 Worker。
type InstallEvent struct {
	extendable
	skipWaiting bool
}

// SkipWaiting 要求安装完成后立即激活，不等待旧版本的客户端关闭。
func (e *InstallEvent) SkipWaiting() {
	e.mu.Lock()
	e.skipWaiting = true
	e.mu.Unlock()
}

func (e *InstallEvent) skipsWaiting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipWaiting
}

// ActivateEvent 在激活阶段交给 Worker，可通过 Clients 接管已打开的客户端。
type ActivateEvent struct {
	extendable
	clients *Clients
}

// Clients 返回宿主维护的客户端集合。
func (e *ActivateEvent) Clients() *Clients {
	return e.clients
}

// Install 处理 install 事件：立即 skip waiting。
func (w *Worker) Install(ctx context.Context, ev *InstallEvent) error {
	if w.skipWaiting {
		ev.SkipWaiting()
	}
	w.logger.WithFields(logrus.Fields{
		"action":       "worker_install",
		"version":      w.version,
		"skip_waiting": w.skipWaiting,
	}).Debug("worker install")
	return nil
}

// Activate 处理 activate 事件：接管所有已打开的客户端，无需刷新。
func (w *Worker) Activate(ctx context.Context, ev *ActivateEvent) error {
	ev.WaitUntil(func(ctx context.Context) error {
		return ev.Clients().Claim(ctx, w)
	})
	w.logger.WithFields(logrus.Fields{
		"action":  "worker_activate",
		"version": w.version,
	}).Debug("worker activate")
	return nil
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}
