// Package strategies 定义战术策略的封闭接口与公共基座。
// 每个策略暴露行情/订单簿/成交三个钩子，用不到的钩子保持空操作。
package strategies

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/microstructure"
	"github.com/changrenyuan/okx-auto/internal/orderbook"
	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// Market 策略读取的市场状态，由编排器注入
type Market struct {
	InstID   string
	Book     *orderbook.Book
	Features *microstructure.Extractor
	Tape     *domain.TradeTape
}

// Strategy 战术策略接口。实现通过组合 Base 获得空钩子和统计。
type Strategy interface {
	Name() string
	OnTicker(t *domain.Ticker) []*domain.Signal
	OnOrderBook() []*domain.Signal
	OnTrade(tr *domain.TradeEvent) []*domain.Signal
}

// Stats 策略信号统计
type Stats struct {
	Generated int64 `json:"generated"`
	Executed  int64 `json:"executed"`
}

// Base 策略公共基座：命名、日志、信号计数
type Base struct {
	name string
	Log  *logrus.Entry

	mu    sync.Mutex
	stats Stats
}

// NewBase 创建基座
func NewBase(name string) Base {
	return Base{
		name: name,
		Log:  logger.WithField("strategy", name),
	}
}

// Name 策略名
func (b *Base) Name() string { return b.name }

// OnTicker 默认空操作
func (b *Base) OnTicker(*domain.Ticker) []*domain.Signal { return nil }

// OnOrderBook 默认空操作
func (b *Base) OnOrderBook() []*domain.Signal { return nil }

// OnTrade 默认空操作
func (b *Base) OnTrade(*domain.TradeEvent) []*domain.Signal { return nil }

// MarkGenerated 记录一条新信号并输出日志
func (b *Base) MarkGenerated(sig *domain.Signal) {
	b.mu.Lock()
	b.stats.Generated++
	b.mu.Unlock()
	b.Log.WithFields(logrus.Fields{
		"action":     sig.Action,
		"price":      sig.Price,
		"size":       sig.Size,
		"confidence": sig.Confidence,
		"reason":     sig.Reason,
	}).Info("产生信号")
}

// MarkExecuted 信号成交后由编排器回调
func (b *Base) MarkExecuted() {
	b.mu.Lock()
	b.stats.Executed++
	b.mu.Unlock()
}

// Stats 当前统计快照
func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
