// Package microstructure 从订单簿副本和成交带推导微观结构特征：
// OFI、加权中间价、点差状态、流动性挤压、幌骗（spoofing）检测，
// 以及一个"赌徒行为"规则分类器。
package microstructure

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/orderbook"
)

const defaultHistorySize = 100

// sample 每次 Update 记录的一条深度采样
type sample struct {
	ts          time.Time
	bestBidSize float64
	bestAskSize float64
	bidDepth5   float64
	askDepth5   float64
}

// Snapshot 一次性导出的特征快照，只读
type Snapshot struct {
	BestBid     decimal.Decimal
	BestBidSize decimal.Decimal
	BestAsk     decimal.Decimal
	BestAskSize decimal.Decimal
	Mid         decimal.Decimal
	WMP         decimal.Decimal
	Spread      decimal.Decimal
	SpreadBps   float64
	OFI1s       float64
	OFI5s       float64
	BidDepth5   float64
	AskDepth5   float64
	Voids       []orderbook.Gap
	Wall        *orderbook.Wall
	Timestamp   time.Time
}

// Pressure 买卖压力指标
type Pressure struct {
	Buy       float64
	Sell      float64
	Net       float64
	Imbalance float64
}

// GamblerBehavior 赌徒行为分类结果
type GamblerBehavior struct {
	PanicSelling  bool
	FomoBuying    bool
	ChasingRally  bool
	PanicCovering bool
}

// Extractor 特征提取器。写入（Update）只来自消息处理路径，
// 与读取同步进行，内部不需要加锁。
type Extractor struct {
	book *orderbook.Book
	tape *domain.TradeTape

	samples    []sample  // 深度采样历史
	ofiHistory []float64 // 每次 Update 计算的 OFI 序列
	spreadHist []float64
	maxHistory int

	voidThreshold float64
	wallMinDepth  decimal.Decimal
	scanLevels    int

	now func() time.Time
}

// NewExtractor 创建特征提取器
func NewExtractor(book *orderbook.Book, tape *domain.TradeTape) *Extractor {
	return &Extractor{
		book:          book,
		tape:          tape,
		maxHistory:    defaultHistorySize,
		voidThreshold: 0.001,
		wallMinDepth:  decimal.NewFromInt(100),
		scanLevels:    20,
		now:           time.Now,
	}
}

// Update 采样当前订单簿状态并追加到历史缓冲。
// 每次调用同时把 1 秒窗口的 OFI 追加进 OFI 历史。
func (e *Extractor) Update() {
	s := sample{ts: e.now()}
	if bid := e.book.BestBid(); bid != nil {
		s.bestBidSize, _ = bid.Size.Float64()
	}
	if ask := e.book.BestAsk(); ask != nil {
		s.bestAskSize, _ = ask.Size.Float64()
	}
	s.bidDepth5, _ = e.book.BidDepth(5).Float64()
	s.askDepth5, _ = e.book.AskDepth(5).Float64()

	e.samples = appendBounded(e.samples, s, e.maxHistory)
	e.ofiHistory = appendBounded(e.ofiHistory, e.OFI(time.Second), e.maxHistory)
	e.spreadHist = appendBounded(e.spreadHist, e.book.SpreadBps(), e.maxHistory)
}

func appendBounded[T any](buf []T, v T, max int) []T {
	if len(buf) >= max {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return append(buf, v)
}

// OFI 简化的订单流不平衡：时间窗口内最优买量变化减去最优卖量变化。
// 窗口内不足 2 个采样时返回 0。
func (e *Extractor) OFI(window time.Duration) float64 {
	cutoff := e.now().Add(-window)
	first := -1
	for i, s := range e.samples {
		if !s.ts.Before(cutoff) {
			first = i
			break
		}
	}
	if first < 0 || len(e.samples)-first < 2 {
		return 0
	}
	oldest := e.samples[first]
	latest := e.samples[len(e.samples)-1]
	return (latest.bestBidSize - oldest.bestBidSize) - (latest.bestAskSize - oldest.bestAskSize)
}

// OFITrend 对最近 window 个 OFI 值做最小二乘拟合：
// 斜率 > 0.01 为 rising，< -0.01 为 falling，否则 stable。
// 样本不足 window 个时返回 stable。
func (e *Extractor) OFITrend(window int) string {
	if window < 2 || len(e.ofiHistory) < window {
		return "stable"
	}
	ys := e.ofiHistory[len(e.ofiHistory)-window:]
	slope := olsSlope(ys)
	switch {
	case slope > 0.01:
		return "rising"
	case slope < -0.01:
		return "falling"
	default:
		return "stable"
	}
}

// olsSlope 闭式最小二乘斜率，x 取 0..n-1
func olsSlope(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// SpreadStatus 点差状态：>50bps extreme，>20bps wide，否则 normal
func (e *Extractor) SpreadStatus() string {
	bps := e.book.SpreadBps()
	switch {
	case bps > 50:
		return "extreme"
	case bps > 20:
		return "wide"
	default:
		return "normal"
	}
}

// DetectLiquiditySqueeze 流动性挤压：前 5 档买卖深度失衡超过阈值。
// 返回是否触发及失衡度。
func (e *Extractor) DetectLiquiditySqueeze(threshold float64) (bool, float64) {
	if threshold <= 0 {
		threshold = 0.7
	}
	bid, _ := e.book.BidDepth(5).Float64()
	ask, _ := e.book.AskDepth(5).Float64()
	total := bid + ask
	if total == 0 {
		return false, 0
	}
	imbalance := math.Abs(bid-ask) / total
	return imbalance > threshold, imbalance
}

// DetectSpoofing 幌骗检测：两个采样前最优买量超过 10 且当前已塌缩到
// 当时的 30% 以下，视为大单被突然撤走。
func (e *Extractor) DetectSpoofing() bool {
	if len(e.samples) < 3 {
		return false
	}
	prior := e.samples[len(e.samples)-3].bestBidSize
	if prior <= 10 {
		return false
	}
	var current float64
	if bid := e.book.BestBid(); bid != nil {
		current, _ = bid.Size.Float64()
	}
	return current < prior*0.3
}

// PressureIndex 由最近一次 OFI 推导买卖压力
func (e *Extractor) PressureIndex() Pressure {
	var ofi float64
	if len(e.ofiHistory) > 0 {
		ofi = e.ofiHistory[len(e.ofiHistory)-1]
	}
	p := Pressure{
		Buy:  math.Max(0, ofi),
		Sell: math.Max(0, -ofi),
	}
	p.Net = p.Buy - p.Sell
	bid, _ := e.book.BidDepth(5).Float64()
	ask, _ := e.book.AskDepth(5).Float64()
	if total := bid + ask; total > 0 {
		p.Imbalance = ofi / total
	}
	return p
}

// ClassifyGamblerBehavior 确定性规则表，把点差状态、压力、OFI 趋势
// 和 WMP 偏离组合成四个布尔信号。
func (e *Extractor) ClassifyGamblerBehavior() GamblerBehavior {
	status := e.SpreadStatus()
	pressure := e.PressureIndex()
	trend := e.OFITrend(10)

	var ofi float64
	if len(e.ofiHistory) > 0 {
		ofi = e.ofiHistory[len(e.ofiHistory)-1]
	}

	mid := e.book.MidPrice()
	wmp := e.book.WeightedMidPrice()
	wmpAboveMid := !mid.IsZero() && wmp.GreaterThan(mid.Mul(decimal.NewFromFloat(1.001)))

	return GamblerBehavior{
		PanicSelling:  status == "extreme" && pressure.Sell > 100 && trend == "falling",
		FomoBuying:    status == "wide" && pressure.Buy > 100 && trend == "rising",
		ChasingRally:  wmpAboveMid && ofi > 50,
		PanicCovering: status == "extreme" && pressure.Buy > 100 && trend == "rising",
	}
}

// Snapshot 按需重算一份完整特征快照，不修改内部状态
func (e *Extractor) Snapshot() *Snapshot {
	snap := &Snapshot{
		Mid:       e.book.MidPrice(),
		WMP:       e.book.WeightedMidPrice(),
		Spread:    e.book.Spread(),
		SpreadBps: e.book.SpreadBps(),
		OFI1s:     e.OFI(time.Second),
		OFI5s:     e.OFI(5 * time.Second),
		Voids:     e.book.DetectLiquidityVoid("both", e.voidThreshold, e.scanLevels),
		Wall:      e.book.DetectWall(e.wallMinDepth, e.scanLevels),
		Timestamp: e.now(),
	}
	if bid := e.book.BestBid(); bid != nil {
		snap.BestBid = bid.Price
		snap.BestBidSize = bid.Size
	}
	if ask := e.book.BestAsk(); ask != nil {
		snap.BestAsk = ask.Price
		snap.BestAskSize = ask.Size
	}
	snap.BidDepth5, _ = e.book.BidDepth(5).Float64()
	snap.AskDepth5, _ = e.book.AskDepth(5).Float64()
	return snap
}
