package worker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotActive 表示只有处于 activating/activated 的 Worker 才能接管客户端。
var ErrNotActive = errors.New("worker is not active")

// Client 是一个已打开的客户端上下文（对应一个浏览器会话）。
type Client struct {
	ID         string    `json:"id"`
	Controller string    `json:"controller,omitempty"`
	AttachedAt time.Time `json:"attached_at"`
	LastSeen   time.Time `json:"last_seen"`
}

type clientState struct {
	attachedAt time.Time
	lastSeen   time.Time
	controller *Worker
}

// Clients 记录所有打开的客户端及其控制者。
// HTTP 客户端不会通知关闭，只能按最近一次请求时间回收（见 Prune），
// limit > 0 时登记数量达到上限会先挤掉最久未活动的客户端。
type Clients struct {
	mu      sync.RWMutex
	clients map[string]*clientState
	limit   int
	now     func() time.Time
}

// NewClients 创建空的客户端集合。
func NewClients() *Clients {
	return &Clients{
		clients: make(map[string]*clientState),
		now:     time.Now,
	}
}

// SetLimit 设置同时登记的客户端上限，<= 0 表示不限制。
func (c *Clients) SetLimit(limit int) {
	c.mu.Lock()
	c.limit = limit
	c.mu.Unlock()
}

// Attach 登记客户端，新客户端由 controller（可为 nil）控制；
// 已存在时只刷新活动时间，不改变控制者。返回是否新登记。
func (c *Clients) Attach(id string, controller *Worker) bool {
	if id == "" {
		return false
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, exists := c.clients[id]; exists {
		state.lastSeen = now
		return false
	}
	if c.limit > 0 && len(c.clients) >= c.limit {
		c.evictOldestLocked()
	}
	c.clients[id] = &clientState{attachedAt: now, lastSeen: now, controller: controller}
	return true
}

func (c *Clients) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, state := range c.clients {
		if oldestID == "" || state.lastSeen.Before(oldest) {
			oldestID, oldest = id, state.lastSeen
		}
	}
	delete(c.clients, oldestID)
}

// Prune 移除 idle 时长内没有活动的客户端，返回被移除的 ID（按字典序）。
func (c *Clients) Prune(idle time.Duration) []string {
	if idle <= 0 {
		return nil
	}
	cutoff := c.now().UTC().Add(-idle)
	c.mu.Lock()
	var removed []string
	for id, state := range c.clients {
		if state.lastSeen.Before(cutoff) {
			delete(c.clients, id)
			removed = append(removed, id)
		}
	}
	c.mu.Unlock()
	sort.Strings(removed)
	return removed
}

// Detach 移除客户端。
func (c *Clients) Detach(id string) {
	c.mu.Lock()
	delete(c.clients, id)
	c.mu.Unlock()
}

// Controller 返回控制该客户端的 Worker，未登记或未受控时返回 nil。
func (c *Clients) Controller(id string) *Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.clients[id]; ok {
		return state.controller
	}
	return nil
}

// Claim 让 w 成为所有已打开客户端的控制者。
func (c *Clients) Claim(ctx context.Context, w *Worker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state := w.State(); state != StateActivating && state != StateActivated {
		return ErrNotActive
	}
	c.mu.Lock()
	for _, state := range c.clients {
		state.controller = w
	}
	c.mu.Unlock()
	return nil
}

// ControlledBy 返回由 w 控制的客户端数量。
func (c *Clients) ControlledBy(w *Worker) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, state := range c.clients {
		if state.controller == w {
			count++
		}
	}
	return count
}

// Len 返回已登记的客户端数量。
func (c *Clients) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// List 按 ID 排序返回客户端快照。
func (c *Clients) List() []Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Client, 0, len(c.clients))
	for id, state := range c.clients {
		item := Client{ID: id, AttachedAt: state.attachedAt, LastSeen: state.lastSeen}
		if state.controller != nil {
			item.Controller = state.controller.Version()
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}
