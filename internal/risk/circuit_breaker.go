// Package risk 实现熔断器与交易前风控闸门。
// 熔断触发后只能人工复位，没有基于时间的自动恢复。
package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/ports"
	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// 触发原因
const (
	ReasonLatency   = "latency"
	ReasonDailyLoss = "daily_loss"
)

// BreakerConfig 熔断参数
type BreakerConfig struct {
	// MaxLatencyMs 平均延迟上限（毫秒）
	MaxLatencyMs float64
	// MaxDailyLoss 日亏损比例上限（0.05 = 5%）
	MaxDailyLoss float64
	// Interval 监控周期
	Interval time.Duration
	// LatencyWindow 延迟采样窗口大小
	LatencyWindow int
	// Instruments 触发时需要撤单的标的
	Instruments []string
}

func (c *BreakerConfig) withDefaults() BreakerConfig {
	out := *c
	if out.MaxLatencyMs <= 0 {
		out.MaxLatencyMs = 100
	}
	if out.MaxDailyLoss <= 0 {
		out.MaxDailyLoss = 0.05
	}
	if out.Interval <= 0 {
		out.Interval = time.Second
	}
	if out.LatencyWindow <= 0 {
		out.LatencyWindow = 100
	}
	return out
}

// Status 熔断器状态快照
type Status struct {
	Triggered      bool      `json:"triggered"`
	Reason         string    `json:"reason,omitempty"`
	TriggerTime    time.Time `json:"trigger_time,omitempty"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	DailyLossRatio float64   `json:"daily_loss_ratio"`
	DailyStart     float64   `json:"daily_start"`
}

// CircuitBreaker 独立于策略路径的周期监控循环。
// 延迟/余额由外部采样喂入（单写者），读方容忍一秒内的滞后。
type CircuitBreaker struct {
	cfg  BreakerConfig
	exec ports.ExecutionClient
	log  *logrus.Entry

	triggered atomic.Bool
	running   atomic.Bool

	mu          sync.RWMutex
	dailyStart  float64
	current     float64
	latencies   []float64
	reason      string
	triggerTime time.Time
}

// NewCircuitBreaker 创建熔断器。exec 可为 nil（测试或只读模式）。
func NewCircuitBreaker(cfg BreakerConfig, exec ports.ExecutionClient) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:  cfg.withDefaults(),
		exec: exec,
		log:  logger.WithField("component", "circuit_breaker"),
	}
}

// RecordLatency 记录一次请求延迟（毫秒）
func (cb *CircuitBreaker) RecordLatency(ms float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.latencies) >= cb.cfg.LatencyWindow {
		copy(cb.latencies, cb.latencies[1:])
		cb.latencies = cb.latencies[:len(cb.latencies)-1]
	}
	cb.latencies = append(cb.latencies, ms)
}

// RecordBalance 记录余额快照，首次记录作为当日起始余额
func (cb *CircuitBreaker) RecordBalance(balance float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.dailyStart == 0 {
		cb.dailyStart = balance
	}
	cb.current = balance
}

// SeedDailyStart 用持久化的余额恢复当日起始基准，仅在尚未记录时生效
func (cb *CircuitBreaker) SeedDailyStart(balance float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.dailyStart == 0 && balance > 0 {
		cb.dailyStart = balance
	}
}

// AvgLatencyMs 滚动平均延迟
func (cb *CircuitBreaker) AvgLatencyMs() float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.avgLatencyLocked()
}

func (cb *CircuitBreaker) avgLatencyLocked() float64 {
	if len(cb.latencies) == 0 {
		return 0
	}
	var sum float64
	for _, v := range cb.latencies {
		sum += v
	}
	return sum / float64(len(cb.latencies))
}

// DailyLossRatio 当日盈亏比例，亏损为负
func (cb *CircuitBreaker) DailyLossRatio() float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.dailyLossLocked()
}

func (cb *CircuitBreaker) dailyLossLocked() float64 {
	if cb.dailyStart == 0 {
		return 0
	}
	return (cb.current - cb.dailyStart) / cb.dailyStart
}

// IsSafe 是否允许交易
func (cb *CircuitBreaker) IsSafe() bool {
	return !cb.triggered.Load()
}

// Start 启动监控循环，阻塞直到 ctx 取消
func (cb *CircuitBreaker) Start(ctx context.Context) {
	if !cb.running.CompareAndSwap(false, true) {
		return
	}
	defer cb.running.Store(false)

	ticker := time.NewTicker(cb.cfg.Interval)
	defer ticker.Stop()
	cb.log.WithFields(logrus.Fields{
		"max_latency_ms": cb.cfg.MaxLatencyMs,
		"max_daily_loss": cb.cfg.MaxDailyLoss,
	}).Info("熔断监控启动")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cb.check(ctx)
		}
	}
}

// check 单次监控：已触发则不重复动作
func (cb *CircuitBreaker) check(ctx context.Context) {
	if cb.triggered.Load() {
		return
	}
	if avg := cb.AvgLatencyMs(); avg > cb.cfg.MaxLatencyMs {
		cb.trip(ctx, ReasonLatency)
		return
	}
	if loss := cb.DailyLossRatio(); loss <= -cb.cfg.MaxDailyLoss {
		cb.trip(ctx, ReasonDailyLoss)
	}
}

// trip 触发熔断并尽力撤掉全部挂单，每次触发只撤一次
func (cb *CircuitBreaker) trip(ctx context.Context, reason string) {
	if !cb.triggered.CompareAndSwap(false, true) {
		return
	}
	cb.mu.Lock()
	cb.reason = reason
	cb.triggerTime = time.Now()
	cb.mu.Unlock()

	cb.log.WithField("reason", reason).Error("熔断触发，暂停全部交易")

	if cb.exec == nil {
		return
	}
	for _, instID := range cb.cfg.Instruments {
		count, err := cb.exec.CancelAll(ctx, instID)
		if err != nil {
			cb.log.WithError(err).WithField("instId", instID).Warn("熔断撤单失败")
			continue
		}
		cb.log.WithFields(logrus.Fields{"instId": instID, "count": count}).Info("熔断撤单完成")
	}
}

// Reset 人工复位。同时把当前余额设为新的当日起点。
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.reason = ""
	cb.triggerTime = time.Time{}
	cb.dailyStart = cb.current
	cb.latencies = cb.latencies[:0]
	cb.mu.Unlock()
	cb.triggered.Store(false)
	cb.log.Warn("熔断人工复位")
}

// Status 状态快照
func (cb *CircuitBreaker) Status() Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return Status{
		Triggered:      cb.triggered.Load(),
		Reason:         cb.reason,
		TriggerTime:    cb.triggerTime,
		AvgLatencyMs:   cb.avgLatencyLocked(),
		DailyLossRatio: cb.dailyLossLocked(),
		DailyStart:     cb.dailyStart,
	}
}
