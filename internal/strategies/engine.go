package strategies

import (
	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// SafetyGate 熔断检查接口。触发期间所有策略评估被抑制。
type SafetyGate interface {
	IsSafe() bool
}

// Engine 按事件驱动全部策略并汇总信号。
// 熔断触发时直接返回空，不进入任何策略钩子。
type Engine struct {
	registry *Registry
	gate     SafetyGate
}

// NewEngine 创建策略引擎
func NewEngine(registry *Registry, gate SafetyGate) *Engine {
	return &Engine{registry: registry, gate: gate}
}

// OnTicker 行情事件驱动一轮评估
func (e *Engine) OnTicker(t *domain.Ticker) []*domain.Signal {
	if !e.safe() {
		return nil
	}
	var out []*domain.Signal
	for _, s := range e.registry.All() {
		out = append(out, s.OnTicker(t)...)
	}
	return out
}

// OnOrderBook 订单簿事件驱动一轮评估
func (e *Engine) OnOrderBook() []*domain.Signal {
	if !e.safe() {
		return nil
	}
	var out []*domain.Signal
	for _, s := range e.registry.All() {
		out = append(out, s.OnOrderBook()...)
	}
	return out
}

// OnTrade 成交事件驱动一轮评估
func (e *Engine) OnTrade(tr *domain.TradeEvent) []*domain.Signal {
	if !e.safe() {
		return nil
	}
	var out []*domain.Signal
	for _, s := range e.registry.All() {
		out = append(out, s.OnTrade(tr)...)
	}
	return out
}

// MarkExecuted 信号执行成功后回填策略统计
func (e *Engine) MarkExecuted(sig *domain.Signal) {
	s, ok := e.registry.Get(sig.Strategy)
	if !ok {
		return
	}
	type executed interface{ MarkExecuted() }
	if m, ok := s.(executed); ok {
		m.MarkExecuted()
	}
}

func (e *Engine) safe() bool {
	if e.gate == nil {
		return true
	}
	if !e.gate.IsSafe() {
		logger.Debug("熔断触发中，跳过策略评估")
		return false
	}
	return true
}
