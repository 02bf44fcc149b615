// Package frontrun 抢跑策略：大单成交叠加对侧盘口深度断崖时，
// 抢在预期的连锁行情前下单。
package frontrun

import (
	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/strategies"
)

// ID 策略名
const ID = "front_running"

const historySize = 20

// Config 策略参数
type Config struct {
	Enabled bool
	// LargeTradeThreshold 触发检查的大单阈值
	LargeTradeThreshold decimal.Decimal
	// DepthDropRatio 对侧盘口深度相对历史均值的跌幅阈值（0.5 = 50%）
	DepthDropRatio float64
	// OrderSize 下单数量
	OrderSize decimal.Decimal
}

// Strategy 抢跑策略
type Strategy struct {
	strategies.Base
	cfg    Config
	market *strategies.Market

	bidSizeHist []float64 // 最优买量历史
	askSizeHist []float64 // 最优卖量历史
}

// New 创建策略实例
func New(cfg Config, market *strategies.Market) *Strategy {
	return &Strategy{
		Base:   strategies.NewBase(ID),
		cfg:    cfg,
		market: market,
	}
}

// OnOrderBook 记录盘口深度历史，不产生信号
func (s *Strategy) OnOrderBook() []*domain.Signal {
	if !s.cfg.Enabled {
		return nil
	}
	var bidSize, askSize float64
	if bid := s.market.Book.BestBid(); bid != nil {
		bidSize, _ = bid.Size.Float64()
	}
	if ask := s.market.Book.BestAsk(); ask != nil {
		askSize, _ = ask.Size.Float64()
	}
	s.bidSizeHist = appendBounded(s.bidSizeHist, bidSize)
	s.askSizeHist = appendBounded(s.askSizeHist, askSize)
	return nil
}

// OnTrade 大单出现时检查对侧深度是否断崖，是则顺势抢跑
func (s *Strategy) OnTrade(tr *domain.TradeEvent) []*domain.Signal {
	if !s.cfg.Enabled || tr.Size.LessThan(s.cfg.LargeTradeThreshold) {
		return nil
	}

	// 买单吃的是卖侧，对侧 = ask；卖单反之
	var hist []float64
	var current float64
	var action domain.SignalAction
	var price decimal.Decimal
	if tr.Side == domain.SideBuy {
		hist = s.askSizeHist
		if ask := s.market.Book.BestAsk(); ask != nil {
			current, _ = ask.Size.Float64()
			price = ask.Price
		}
		action = domain.ActionBuy
	} else {
		hist = s.bidSizeHist
		if bid := s.market.Book.BestBid(); bid != nil {
			current, _ = bid.Size.Float64()
			price = bid.Price
		}
		action = domain.ActionSell
	}

	avg := mean(hist)
	if avg <= 0 || current > avg*(1-s.cfg.DepthDropRatio) {
		return nil
	}

	sig := domain.NewSignal(ID, s.market.InstID, action)
	sig.Price = price
	sig.Size = s.cfg.OrderSize
	sig.Confidence = 0.7
	sig.Reason = "大单成交后对侧深度断崖，抢跑预期行情"
	s.MarkGenerated(sig)
	return []*domain.Signal{sig}
}

func appendBounded(buf []float64, v float64) []float64 {
	if len(buf) >= historySize {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return append(buf, v)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
