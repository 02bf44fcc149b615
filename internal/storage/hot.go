// Package storage 三层存储：内存热层、badger 温层、sqlite 冷层。
// 核心只做尽力推送，任何一层故障都不影响交易路径。
package storage

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/ports"
)

// BookTop 盘口前五档镜像
type BookTop struct {
	InstID string            `json:"inst_id"`
	Bids   []ports.BookLevel `json:"bids"`
	Asks   []ports.BookLevel `json:"asks"`
	Ts     time.Time         `json:"ts"`
}

// HotStats 热层统计
type HotStats struct {
	Instruments int   `json:"instruments"`
	BookUpdates int64 `json:"book_updates"`
	Trades      int64 `json:"trades"`
}

// HotStore 进程内最新状态镜像 + 成交环形缓冲
type HotStore struct {
	mu        sync.RWMutex
	tops      map[string]*BookTop
	tapes     map[string]*domain.TradeTape
	maxTrades int

	bookUpdates int64
	tradeCount  int64
}

// NewHotStore 创建热层，maxTrades 为每标的成交缓冲大小
func NewHotStore(maxTrades int) *HotStore {
	if maxTrades <= 0 {
		maxTrades = 1000
	}
	return &HotStore{
		tops:      make(map[string]*BookTop),
		tapes:     make(map[string]*domain.TradeTape),
		maxTrades: maxTrades,
	}
}

// SetTop 更新盘口镜像
func (h *HotStore) SetTop(top *BookTop) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tops[top.InstID] = top
	h.bookUpdates++
}

// Top 读取盘口镜像，不存在返回 nil
func (h *HotStore) Top(instID string) *BookTop {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tops[instID]
}

// AddTrade 追加成交
func (h *HotStore) AddTrade(tr *domain.TradeEvent) {
	h.mu.Lock()
	tape, ok := h.tapes[tr.InstID]
	if !ok {
		tape = domain.NewTradeTape(h.maxTrades)
		h.tapes[tr.InstID] = tape
	}
	h.tradeCount++
	h.mu.Unlock()
	tape.Append(*tr)
}

// RecentTrades 最近 n 笔成交
func (h *HotStore) RecentTrades(instID string, n int) []domain.TradeEvent {
	h.mu.RLock()
	tape := h.tapes[instID]
	h.mu.RUnlock()
	if tape == nil {
		return nil
	}
	return tape.Recent(n)
}

// BuySellRatio 窗口内买量/卖量，卖量为 0 时返回 0
func (h *HotStore) BuySellRatio(instID string, window time.Duration) float64 {
	h.mu.RLock()
	tape := h.tapes[instID]
	h.mu.RUnlock()
	if tape == nil {
		return 0
	}
	buy, sell := decimal.Zero, decimal.Zero
	for _, tr := range tape.InWindow(window) {
		if tr.Side == domain.SideBuy {
			buy = buy.Add(tr.Size)
		} else {
			sell = sell.Add(tr.Size)
		}
	}
	if sell.IsZero() {
		return 0
	}
	v, _ := buy.Div(sell).Float64()
	return v
}

// Stats 热层统计快照
func (h *HotStore) Stats() HotStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HotStats{
		Instruments: len(h.tops),
		BookUpdates: h.bookUpdates,
		Trades:      h.tradeCount,
	}
}
