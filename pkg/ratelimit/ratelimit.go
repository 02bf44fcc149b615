package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Remaining() int
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   int // 桶容量
	tokens     int // 当前令牌数
	refillRate int // 每秒补充的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket 创建令牌桶
func NewTokenBucket(capacity, refillRate int) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞等待直到允许请求或 ctx 取消
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		wait := time.Second
		if tb.refillRate > 0 {
			wait = time.Second / time.Duration(tb.refillRate)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Remaining 剩余令牌数
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// Manager 按端点分组的速率限制管理器。
// 默认额度按交易所 REST 文档配置。
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

// NewManager 创建管理器并装上默认端点额度
func NewManager() *Manager {
	m := &Manager{
		limiters: make(map[string]Limiter),
		fallback: NewTokenBucket(20, 10),
	}
	// 交易类端点 60 次/2 秒，账户查询 10 次/2 秒，公共数据 20 次/2 秒
	m.limiters["trade:order"] = NewTokenBucket(60, 30)
	m.limiters["trade:cancel"] = NewTokenBucket(60, 30)
	m.limiters["account:balance"] = NewTokenBucket(10, 5)
	m.limiters["account:positions"] = NewTokenBucket(10, 5)
	m.limiters["public:instruments"] = NewTokenBucket(20, 10)
	return m
}

// Get 取端点限制器，未配置的端点用兜底额度
func (m *Manager) Get(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait 等待端点额度
func (m *Manager) Wait(ctx context.Context, endpoint string) error {
	return m.Get(endpoint).Wait(ctx)
}
