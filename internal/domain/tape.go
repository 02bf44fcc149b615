package domain

import (
	"sync"
	"time"
)

// TradeTape 有界成交带，保留最近 N 笔成交供策略回看。
// 满了以后丢弃最旧的一笔。
type TradeTape struct {
	mu     sync.RWMutex
	trades []TradeEvent
	max    int
}

// NewTradeTape 创建成交带，max <= 0 时取默认 1000
func NewTradeTape(max int) *TradeTape {
	if max <= 0 {
		max = 1000
	}
	return &TradeTape{
		trades: make([]TradeEvent, 0, max),
		max:    max,
	}
}

// Append 追加一笔成交
func (t *TradeTape) Append(tr TradeEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.trades) >= t.max {
		copy(t.trades, t.trades[1:])
		t.trades = t.trades[:len(t.trades)-1]
	}
	t.trades = append(t.trades, tr)
}

// Recent 返回最近 n 笔成交（从旧到新）
func (t *TradeTape) Recent(n int) []TradeEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.trades) {
		n = len(t.trades)
	}
	out := make([]TradeEvent, n)
	copy(out, t.trades[len(t.trades)-n:])
	return out
}

// InWindow 返回时间窗口内的成交（从旧到新）
func (t *TradeTape) InWindow(window time.Duration) []TradeEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := time.Now().Add(-window)
	var out []TradeEvent
	for i := len(t.trades) - 1; i >= 0; i-- {
		if t.trades[i].Timestamp.Before(cutoff) {
			break
		}
		out = append(out, t.trades[i])
	}
	// 翻转为时间升序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len 当前成交数量
func (t *TradeTape) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.trades)
}
