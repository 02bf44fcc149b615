// Package ports 定义核心与外部协作者之间的接口边界。
// 核心只在风控放行后调用 ExecutionClient；执行失败视为"信号未成交"，
// 绝不导致核心循环退出。
package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
)

// OrderType 订单类型
type OrderType string

const (
	OrderLimit    OrderType = "limit"
	OrderMarket   OrderType = "market"
	OrderPostOnly OrderType = "post_only"
	OrderIOC      OrderType = "ioc"
	OrderFOK      OrderType = "fok"
)

// OrderRequest 下单请求
type OrderRequest struct {
	InstID  string
	Side    domain.Side
	Type    OrderType
	Size    decimal.Decimal
	Price   decimal.Decimal // 市价单可为零
	TdMode  string          // cross / isolated / cash
	ClOrdID string
}

// Balance 账户余额
type Balance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Position 持仓
type Position struct {
	InstID   string
	Side     string // long / short / net
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
	UplRatio decimal.Decimal
	Notional decimal.Decimal
}

// ExecutionClient 下单/撤单/查询接口
type ExecutionClient interface {
	PlaceOrder(ctx context.Context, req *OrderRequest) (orderID string, err error)
	CancelAll(ctx context.Context, instID string) (count int, err error)
	GetBalance(ctx context.Context) (*Balance, error)
	GetPositions(ctx context.Context) ([]*Position, error)
}

// LatencyReporter 提供滚动平均网络延迟（毫秒），供熔断器采样
type LatencyReporter interface {
	AvgLatencyMs() float64
}

// StorageSink 档位更新与成交事件的归档下沉。
// 核心只做尽力推送，从不阻塞等待确认。
type StorageSink interface {
	PushBookTop(instID string, bids, asks []BookLevel, ts time.Time)
	PushTrade(tr *domain.TradeEvent)
}

// BookLevel 下沉用的档位表示
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}
