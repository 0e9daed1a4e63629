// Package tracker 跟踪本进程正在处理的消息，支持查询与取消。
package tracker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Instance 一次正在进行的处理。
type Instance struct {
	ID        string
	Ctx       context.Context
	Cancel    context.CancelFunc
	StartedAt time.Time
}

// Manager 简单的处理跟踪器。
type Manager struct {
	mu      sync.RWMutex
	running map[string]*Instance
}

// NewManager 构造。
func NewManager() *Manager { return &Manager{running: map[string]*Instance{}} }

// Start 注册一次处理，返回带取消句柄的上下文。
// 同一 id 重复注册时覆盖旧记录，旧记录的上下文会被取消。
func (m *Manager) Start(parent context.Context, id string) *Instance {
	ctx, cancel := context.WithCancel(parent)
	ins := &Instance{ID: id, Ctx: ctx, Cancel: cancel, StartedAt: time.Now()}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.running[id]; ok {
		old.Cancel()
	}
	m.running[id] = ins
	return ins
}

// Done 处理结束，释放上下文。
func (m *Manager) Done(ins *Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins.Cancel()
	if cur, ok := m.running[ins.ID]; ok && cur == ins {
		delete(m.running, ins.ID)
	}
}

// Stop 取消处理。
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ins, ok := m.running[id]; ok {
		ins.Cancel()
		delete(m.running, id)
		return true
	}
	return false
}

// Get 查询处理。
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ins, ok := m.running[id]
	return ins, ok
}

// Count 当前处理数。
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// ListIDs 返回当前处理的 id（有序）。
func (m *Manager) ListIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
