package policy

import (
	"sync"
	"sync/atomic"
)

// Holder 持有当前生效的配置。读取无锁，写入串行。
type Holder struct {
	current atomic.Pointer[Config]
	mu      sync.Mutex
}

// NewHolder 以校验通过的初始配置创建 Holder。
func NewHolder(initial Config) (*Holder, error) {
	cfg, err := New(initial)
	if err != nil {
		return nil, err
	}
	h := &Holder{}
	h.current.Store(&cfg)
	return h, nil
}

// Current 返回当前配置的副本。
func (h *Holder) Current() Config {
	return *h.current.Load()
}

// Set 校验后替换当前配置。
func (h *Holder) Set(next Config) error {
	cfg, err := New(next)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.current.Store(&cfg)
	h.mu.Unlock()
	return nil
}
