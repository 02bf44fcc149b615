// Package wallride 挂墙策略：跟踪持续存在的大单墙，
// 墙可信后在墙前一个最小价位挂单搭便车。
package wallride

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/strategies"
)

// ID 策略名
const ID = "wall_riding"

// Config 策略参数
type Config struct {
	Enabled bool
	// WallDepthThreshold 进入观察表的深度阈值
	WallDepthThreshold decimal.Decimal
	// Persistence 墙持续存在多久后被信任
	Persistence time.Duration
	// AbsenceGrace 墙消失多久后从观察表移除
	AbsenceGrace time.Duration
	// OrderSize 下单数量
	OrderSize decimal.Decimal
	// TickSize 最小价格变动单位
	TickSize decimal.Decimal
	// ScanLevels 每侧检查档位数
	ScanLevels int
}

// wallObs 每面墙的观察记录
type wallObs struct {
	side      string
	price     decimal.Decimal
	depth     decimal.Decimal
	firstSeen time.Time
	lastSeen  time.Time
}

// Strategy 挂墙策略
type Strategy struct {
	strategies.Base
	cfg    Config
	market *strategies.Market

	walls map[string]*wallObs // price.String() -> obs
	now   func() time.Time
}

// New 创建策略实例
func New(cfg Config, market *strategies.Market) *Strategy {
	if cfg.Persistence <= 0 {
		cfg.Persistence = 5 * time.Second
	}
	if cfg.AbsenceGrace <= 0 {
		cfg.AbsenceGrace = 2 * time.Second
	}
	if cfg.ScanLevels <= 0 {
		cfg.ScanLevels = 20
	}
	return &Strategy{
		Base:   strategies.NewBase(ID),
		cfg:    cfg,
		market: market,
		walls:  make(map[string]*wallObs),
		now:    time.Now,
	}
}

// OnOrderBook 刷新墙观察表，对已信任的墙产生挂单信号
func (s *Strategy) OnOrderBook() []*domain.Signal {
	if !s.cfg.Enabled {
		return nil
	}
	now := s.now()
	seen := make(map[string]bool)

	for _, lv := range s.market.Book.Bids(s.cfg.ScanLevels) {
		if lv.Size.GreaterThanOrEqual(s.cfg.WallDepthThreshold) {
			s.observe("bid", lv.Price, lv.Size, now, seen)
		}
	}
	for _, lv := range s.market.Book.Asks(s.cfg.ScanLevels) {
		if lv.Size.GreaterThanOrEqual(s.cfg.WallDepthThreshold) {
			s.observe("ask", lv.Price, lv.Size, now, seen)
		}
	}

	// 连续缺席超过宽限期的墙出表
	for key, w := range s.walls {
		if !seen[key] && now.Sub(w.lastSeen) > s.cfg.AbsenceGrace {
			delete(s.walls, key)
		}
	}

	var out []*domain.Signal
	for _, w := range s.walls {
		if !seen[w.price.String()] {
			continue
		}
		if now.Sub(w.firstSeen) < s.cfg.Persistence {
			continue
		}
		out = append(out, s.ride(w))
	}
	return out
}

func (s *Strategy) observe(side string, price, depth decimal.Decimal, now time.Time, seen map[string]bool) {
	key := price.String()
	seen[key] = true
	if w, ok := s.walls[key]; ok {
		w.depth = depth
		w.lastSeen = now
		return
	}
	s.walls[key] = &wallObs{
		side:      side,
		price:     price,
		depth:     depth,
		firstSeen: now,
		lastSeen:  now,
	}
}

// ride 在墙前一个 tick 挂单：买墙之上买入，卖墙之下卖出
func (s *Strategy) ride(w *wallObs) *domain.Signal {
	var action domain.SignalAction
	var price decimal.Decimal
	if w.side == "bid" {
		action = domain.ActionBuy
		price = w.price.Add(s.cfg.TickSize)
	} else {
		action = domain.ActionSell
		price = w.price.Sub(s.cfg.TickSize)
	}
	sig := domain.NewSignal(ID, s.market.InstID, action)
	sig.Price = price
	sig.Size = s.cfg.OrderSize
	sig.Confidence = 0.75
	sig.Reason = "支撑墙持续存在，贴墙挂单"
	s.MarkGenerated(sig)
	return sig
}
