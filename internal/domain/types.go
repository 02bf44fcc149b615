package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回对侧方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeEvent 逐笔成交
type TradeEvent struct {
	InstID    string          `json:"inst_id"`
	TradeID   string          `json:"trade_id"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// Ticker 最新行情快照
type Ticker struct {
	InstID    string          `json:"inst_id"`
	Last      decimal.Decimal `json:"last"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignalAction 信号动作
type SignalAction string

const (
	ActionBuy        SignalAction = "buy"
	ActionSell       SignalAction = "sell"
	ActionMarketMake SignalAction = "market_making"
	ActionCancel     SignalAction = "cancel"
)

// Signal 策略产生的交易意图。Price/Size 对单边动作有效，
// market_making 动作用 BidPrice/AskPrice 表达双边报价。
type Signal struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	InstID     string          `json:"inst_id"`
	Action     SignalAction    `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	BidPrice   decimal.Decimal `json:"bid_price,omitempty"`
	AskPrice   decimal.Decimal `json:"ask_price,omitempty"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewSignal 创建信号并分配 ID
func NewSignal(strategy, instID string, action SignalAction) *Signal {
	return &Signal{
		ID:        uuid.New().String(),
		Strategy:  strategy,
		InstID:    instID,
		Action:    action,
		CreatedAt: time.Now(),
	}
}
