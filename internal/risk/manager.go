package risk

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/ports"
	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// 凯利公式仓位占比上限
const kellyCap = 0.25

// ManagerConfig 风控闸门参数
type ManagerConfig struct {
	// MaxPositionSize 单笔最大名义价值
	MaxPositionSize float64
	// MaxDailyLoss 日亏损硬停阈值
	MaxDailyLoss float64
	// LeverageLimit 杠杆上限
	LeverageLimit float64
	// 凯利公式冷启动参数：成交样本不足时使用
	SeedWinRate float64
	SeedAvgWin  float64
	SeedAvgLoss float64
	// MinTradesForKelly 启用实测统计所需的最少成交数
	MinTradesForKelly int
}

func (c *ManagerConfig) withDefaults() ManagerConfig {
	out := *c
	if out.MaxPositionSize <= 0 {
		out.MaxPositionSize = 1000
	}
	if out.MaxDailyLoss <= 0 {
		out.MaxDailyLoss = 0.05
	}
	if out.LeverageLimit <= 0 {
		out.LeverageLimit = 20
	}
	if out.SeedWinRate <= 0 {
		out.SeedWinRate = 0.55
	}
	if out.SeedAvgWin <= 0 {
		out.SeedAvgWin = 0.02
	}
	if out.SeedAvgLoss <= 0 {
		out.SeedAvgLoss = 0.015
	}
	if out.MinTradesForKelly <= 0 {
		out.MinTradesForKelly = 20
	}
	return out
}

// LossSource 提供当日盈亏比例，由熔断器实现
type LossSource interface {
	DailyLossRatio() float64
}

// Decision 风控裁决。拒绝以结构化原因返回，不抛异常。
type Decision struct {
	Approved bool
	Reason   string
}

func reject(reason string) *Decision { return &Decision{Reason: reason} }

// Manager 同步交易前闸门，每个候选信号转发执行前调用一次
type Manager struct {
	cfg  ManagerConfig
	loss LossSource
	log  *logrus.Entry

	mu            sync.Mutex
	emergencyStop bool
	trades        int
	wins          int
	sumWin        float64 // 累计盈利比例
	sumLoss       float64 // 累计亏损比例（正数）
}

// NewManager 创建风控闸门
func NewManager(cfg ManagerConfig, loss LossSource) *Manager {
	return &Manager{
		cfg:  cfg.withDefaults(),
		loss: loss,
		log:  logger.WithField("component", "risk_manager"),
	}
}

// PreTradeCheck 按固定顺序执行风控检查。
// 拒绝顺序：急停 > 日亏硬停 > 仓位上限 > 保证金 > 杠杆；凯利仅告警。
func (m *Manager) PreTradeCheck(sig *domain.Signal, bal *ports.Balance, positions []*ports.Position) *Decision {
	m.mu.Lock()
	stopped := m.emergencyStop
	m.mu.Unlock()
	if stopped {
		return reject("emergency_stop")
	}

	if m.loss != nil {
		if ratio := m.loss.DailyLossRatio(); ratio <= -m.cfg.MaxDailyLoss {
			m.mu.Lock()
			m.emergencyStop = true
			m.mu.Unlock()
			m.log.WithField("daily_loss", ratio).Error("日亏损触顶，进入急停")
			return reject("daily_loss_limit")
		}
	}

	notional := m.notional(sig)
	if notional > m.cfg.MaxPositionSize {
		return reject("max_position_size")
	}

	total, _ := bal.Total.Float64()
	available, _ := bal.Available.Float64()

	margin := notional / m.cfg.LeverageLimit
	if margin > available {
		return reject("insufficient_margin")
	}

	var currentNotional float64
	for _, p := range positions {
		v, _ := p.Notional.Float64()
		currentNotional += v
	}
	if total > 0 && (currentNotional+notional)/total > m.cfg.LeverageLimit {
		return reject("leverage_limit")
	}

	// 凯利公式仅作建议上限，超出告警但不拒绝
	if optimal := m.kellyOptimal(total); optimal > 0 && notional > optimal {
		m.log.WithFields(logrus.Fields{
			"strategy": sig.Strategy,
			"notional": notional,
			"kelly":    optimal,
		}).Warn("下单规模超过凯利建议值")
	}

	return &Decision{Approved: true}
}

// notional 信号的名义价值。做市信号取买侧报价口径。
func (m *Manager) notional(sig *domain.Signal) float64 {
	price := sig.Price
	if price.IsZero() {
		price = sig.BidPrice
	}
	v, _ := price.Mul(sig.Size).Float64()
	return v
}

// kellyOptimal f* = clamp((wr*aw - (1-wr)*al)/aw, 0, 0.25) * totalBalance
func (m *Manager) kellyOptimal(totalBalance float64) float64 {
	wr, aw, al := m.winStats()
	if aw <= 0 {
		return 0
	}
	f := (wr*aw - (1-wr)*al) / aw
	if f < 0 {
		f = 0
	}
	if f > kellyCap {
		f = kellyCap
	}
	return f * totalBalance
}

// winStats 成交样本足够时用实测统计，否则用冷启动参数
func (m *Manager) winStats() (winRate, avgWin, avgLoss float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trades < m.cfg.MinTradesForKelly {
		return m.cfg.SeedWinRate, m.cfg.SeedAvgWin, m.cfg.SeedAvgLoss
	}
	winRate = float64(m.wins) / float64(m.trades)
	if m.wins > 0 {
		avgWin = m.sumWin / float64(m.wins)
	}
	if losses := m.trades - m.wins; losses > 0 {
		avgLoss = m.sumLoss / float64(losses)
	}
	return winRate, avgWin, avgLoss
}

// PostTradeCheck 成交后回填统计并做亏损预警（-3%/-4% 只告警，
// 硬停由 PreTradeCheck 的 -5% 规则负责）。
func (m *Manager) PostTradeCheck(pnlRatio float64) {
	m.mu.Lock()
	m.trades++
	if pnlRatio > 0 {
		m.wins++
		m.sumWin += pnlRatio
	} else if pnlRatio < 0 {
		m.sumLoss += -pnlRatio
	}
	m.mu.Unlock()

	if m.loss == nil {
		return
	}
	switch ratio := m.loss.DailyLossRatio(); {
	case ratio <= -0.04:
		m.log.WithField("daily_loss", ratio).Warn("日亏损逼近硬停线")
	case ratio <= -0.03:
		m.log.WithField("daily_loss", ratio).Warn("日亏损超过 3%，注意控制节奏")
	}
}

// EmergencyStop 手动急停
func (m *Manager) EmergencyStop() {
	m.mu.Lock()
	m.emergencyStop = true
	m.mu.Unlock()
	m.log.Error("手动急停")
}

// ResetEmergencyStop 人工解除急停
func (m *Manager) ResetEmergencyStop() {
	m.mu.Lock()
	m.emergencyStop = false
	m.mu.Unlock()
	m.log.Warn("急停解除")
}

// IsStopped 是否处于急停
func (m *Manager) IsStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyStop
}

// TradeStats 返回 (成交数, 胜场数)
func (m *Manager) TradeStats() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trades, m.wins
}
