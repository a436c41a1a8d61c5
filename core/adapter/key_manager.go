package adapter

import (
	"sync"
	"sync/atomic"
	"time"
)

// KeyStatusType Key状态枚举
type KeyStatusType int

const (
	KeyStatusAvailable KeyStatusType = iota
	KeyStatusCooldown
	KeyStatusDead
)

func (s KeyStatusType) String() string {
	switch s {
	case KeyStatusCooldown:
		return "cooldown"
	case KeyStatusDead:
		return "dead"
	default:
		return "available"
	}
}

// KeyState Key的状态信息
type KeyState struct {
	Status     KeyStatusType
	UnlockTime time.Time
}

// KeyPool 轮询选择 API Key 并跟踪冷却/失效状态 (线程安全)
type KeyPool struct {
	keys    []string
	counter atomic.Uint64

	mutex  sync.RWMutex
	states map[string]KeyState

	now func() time.Time
}

func NewKeyPool(keys []string) *KeyPool {
	return &KeyPool{
		keys:   append([]string(nil), keys...),
		states: make(map[string]KeyState),
		now:    time.Now,
	}
}

// Len 返回配置的 Key 数量 (含不可用的)
func (p *KeyPool) Len() int { return len(p.keys) }

// Next 轮询返回下一个可用 Key，跳过冷却和失效的 Key
func (p *KeyPool) Next() (string, error) {
	n := len(p.keys)
	if n == 0 {
		return "", ErrNoAvailableKey
	}
	// counter 从 1 开始，所以使用 (counter - 1)
	start := int((p.counter.Add(1) - 1) % uint64(n))
	for i := 0; i < n; i++ {
		key := p.keys[(start+i)%n]
		if p.IsAvailable(key) {
			return key, nil
		}
	}
	return "", ErrNoAvailableKey
}

// MarkCooldown 标记Key为冷却状态
func (p *KeyPool) MarkCooldown(key string, duration time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.states[key] = KeyState{
		Status:     KeyStatusCooldown,
		UnlockTime: p.now().Add(duration),
	}
}

// MarkDead 标记Key为失效
func (p *KeyPool) MarkDead(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.states[key] = KeyState{Status: KeyStatusDead}
}

// MarkAvailable 标记Key为可用 (IsAvailable 会自动处理过期的 Cooldown)
func (p *KeyPool) MarkAvailable(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.states, key)
}

// IsAvailable 检查Key是否可用
func (p *KeyPool) IsAvailable(key string) bool {
	p.mutex.RLock()
	state, exists := p.states[key]
	p.mutex.RUnlock()

	if !exists {
		return true
	}

	switch state.Status {
	case KeyStatusDead:
		return false
	case KeyStatusCooldown:
		if p.now().After(state.UnlockTime) {
			// 冷却结束，懒惰清理
			p.MarkAvailable(key)
			return true
		}
		return false
	}
	return true
}

// Status 返回 Key 的当前状态，用于日志和健康检查
func (p *KeyPool) Status(key string) KeyStatusType {
	if p.IsAvailable(key) {
		return KeyStatusAvailable
	}
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.states[key].Status
}

// Available 返回当前可用 Key 数量
func (p *KeyPool) Available() int {
	count := 0
	for _, key := range p.keys {
		if p.IsAvailable(key) {
			count++
		}
	}
	return count
}
