package strategies

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry 策略注册表。由顶层编排器持有并按引用传递，
// 不使用进程级可变单例。
type Registry struct {
	mu    sync.RWMutex
	order []string
	items map[string]Strategy
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Strategy)}
}

// Register 注册策略，重名报错
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if _, ok := r.items[name]; ok {
		return errors.Errorf("strategy %q already registered", name)
	}
	r.items[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get 按名称查找
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[name]
	return s, ok
}

// List 按注册顺序返回策略名
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All 按注册顺序返回全部策略
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}
