// Package spreadcap 点差捕获策略：点差落在可做市区间时双边挂单吃价差。
package spreadcap

import (
	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/strategies"
)

// ID 策略名
const ID = "spread_capture"

// Config 策略参数
type Config struct {
	Enabled bool
	// MinSpreadBps 点差下限，低于此值没有利润空间
	MinSpreadBps float64
	// MaxSpreadBps 点差上限，超过视为行情异常
	MaxSpreadBps float64
	// OrderSize 双边挂单数量
	OrderSize decimal.Decimal
}

// Strategy 点差捕获策略
type Strategy struct {
	strategies.Base
	cfg    Config
	market *strategies.Market
}

// New 创建策略实例
func New(cfg Config, market *strategies.Market) *Strategy {
	if cfg.MinSpreadBps <= 0 {
		cfg.MinSpreadBps = 50
	}
	if cfg.MaxSpreadBps <= 0 {
		cfg.MaxSpreadBps = 200
	}
	return &Strategy{
		Base:   strategies.NewBase(ID),
		cfg:    cfg,
		market: market,
	}
}

// OnOrderBook 点差落在 [min, max] 区间时发出双边做市信号
func (s *Strategy) OnOrderBook() []*domain.Signal {
	if !s.cfg.Enabled {
		return nil
	}
	bps := s.market.Book.SpreadBps()
	if bps < s.cfg.MinSpreadBps || bps > s.cfg.MaxSpreadBps {
		return nil
	}
	bid := s.market.Book.BestBid()
	ask := s.market.Book.BestAsk()
	if bid == nil || ask == nil {
		return nil
	}

	sig := domain.NewSignal(ID, s.market.InstID, domain.ActionMarketMake)
	sig.BidPrice = bid.Price
	sig.AskPrice = ask.Price
	sig.Size = s.cfg.OrderSize
	sig.Confidence = 0.8
	sig.Reason = "点差进入可做市区间，双边挂单"
	s.MarkGenerated(sig)
	return []*domain.Signal{sig}
}
