// Package orderbook 维护本地订单簿副本：快照 + 增量更新 + 校验和验证。
// 校验和算法必须与交易所完全一致，任何取整或排序偏差都会破坏同步检测。
package orderbook

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrChecksumMismatch 本地校验和与交易所不一致。
// 状态仍会提交，调用方需要重新请求快照恢复信任。
var ErrChecksumMismatch = errors.New("orderbook: checksum mismatch")

// checksumLevels 参与校验和计算的档位数
const checksumLevels = 25

// Level 单个价格档位。size 为 0 的档位不会存储。
type Level struct {
	Price      decimal.Decimal
	Size       decimal.Decimal
	OrderCount int
}

// Gap 流动性真空区间
type Gap struct {
	Start decimal.Decimal
	End   decimal.Decimal
}

// Wall 大单墙描述
type Wall struct {
	Side  string // bid / ask
	Price decimal.Decimal
	Depth decimal.Decimal
}

// Book 单个标的的订单簿副本。
// 写入只发生在消息处理路径（单写者），读取方持读锁即可。
type Book struct {
	mu     sync.RWMutex
	instID string

	bids map[string]*Level // price.String() -> level
	asks map[string]*Level

	// 有序价格索引：bidPrices 降序，askPrices 升序
	bidPrices []decimal.Decimal
	askPrices []decimal.Decimal

	sequence     int64
	lastChecksum uint32
	updateCount  int64
	errorCount   int64
	consistent   bool
	lastUpdate   time.Time
}

// New 创建空订单簿
func New(instID string) *Book {
	return &Book{
		instID:     instID,
		bids:       make(map[string]*Level),
		asks:       make(map[string]*Level),
		consistent: true,
	}
}

// InstID 返回标的
func (b *Book) InstID() string { return b.instID }

// parseLevel 解析交易所档位数组 [price, size, ordersCount, ...]
func parseLevel(raw []string) (*Level, error) {
	if len(raw) < 2 {
		return nil, errors.Errorf("level entry too short: %v", raw)
	}
	price, err := decimal.NewFromString(raw[0])
	if err != nil {
		return nil, errors.Wrapf(err, "bad price %q", raw[0])
	}
	size, err := decimal.NewFromString(raw[1])
	if err != nil {
		return nil, errors.Wrapf(err, "bad size %q", raw[1])
	}
	lv := &Level{Price: price, Size: size}
	if len(raw) > 2 {
		fmt.Sscanf(raw[2], "%d", &lv.OrderCount)
	}
	return lv, nil
}

// ApplySnapshot 原子替换两侧全部档位。size=0 的档位被忽略。
// 校验和不一致时仍提交新状态，返回 ErrChecksumMismatch 并标记 consistent=false。
func (b *Book) ApplySnapshot(bidLevels, askLevels [][]string, checksum uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]*Level, len(bidLevels))
	b.asks = make(map[string]*Level, len(askLevels))
	b.bidPrices = b.bidPrices[:0]
	b.askPrices = b.askPrices[:0]

	for _, raw := range bidLevels {
		lv, err := parseLevel(raw)
		if err != nil {
			return err
		}
		if lv.Size.IsZero() {
			continue
		}
		b.bids[lv.Price.String()] = lv
		b.bidPrices = insertDesc(b.bidPrices, lv.Price)
	}
	for _, raw := range askLevels {
		lv, err := parseLevel(raw)
		if err != nil {
			return err
		}
		if lv.Size.IsZero() {
			continue
		}
		b.asks[lv.Price.String()] = lv
		b.askPrices = insertAsc(b.askPrices, lv.Price)
	}

	b.sequence++
	b.updateCount++
	b.lastUpdate = time.Now()
	b.lastChecksum = checksum

	if got := b.checksumLocked(); got != checksum {
		b.consistent = false
		b.errorCount++
		return errors.Wrapf(ErrChecksumMismatch, "snapshot %s: local=%d remote=%d", b.instID, got, checksum)
	}
	b.consistent = true
	return nil
}

// ApplyDelta 应用增量更新。size=0 表示删除该价位。
// 校验和不一致时不回滚，标记 consistent=false 并返回可恢复错误。
func (b *Book) ApplyDelta(bidLevels, askLevels [][]string, checksum uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, raw := range bidLevels {
		lv, err := parseLevel(raw)
		if err != nil {
			return err
		}
		b.applyLevelLocked(lv, true)
	}
	for _, raw := range askLevels {
		lv, err := parseLevel(raw)
		if err != nil {
			return err
		}
		b.applyLevelLocked(lv, false)
	}

	b.sequence++
	b.updateCount++
	b.lastUpdate = time.Now()
	b.lastChecksum = checksum

	if got := b.checksumLocked(); got != checksum {
		b.consistent = false
		b.errorCount++
		return errors.Wrapf(ErrChecksumMismatch, "delta %s: local=%d remote=%d", b.instID, got, checksum)
	}
	return nil
}

func (b *Book) applyLevelLocked(lv *Level, isBid bool) {
	key := lv.Price.String()
	side := b.asks
	if isBid {
		side = b.bids
	}
	if lv.Size.IsZero() {
		if _, ok := side[key]; ok {
			delete(side, key)
			if isBid {
				b.bidPrices = removePrice(b.bidPrices, lv.Price)
			} else {
				b.askPrices = removePrice(b.askPrices, lv.Price)
			}
		}
		return
	}
	if _, ok := side[key]; !ok {
		if isBid {
			b.bidPrices = insertDesc(b.bidPrices, lv.Price)
		} else {
			b.askPrices = insertAsc(b.askPrices, lv.Price)
		}
	}
	side[key] = lv
}

// Checksum 按交易所算法计算当前状态的校验和：
// 前 25 档买单（价格降序）+ 前 25 档卖单（价格升序），
// 每档渲染为整数取整的 "price:size:"，对 UTF-8 字节做 CRC32。
func (b *Book) Checksum() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.checksumLocked()
}

func (b *Book) checksumLocked() uint32 {
	var sb strings.Builder
	n := len(b.bidPrices)
	if n > checksumLevels {
		n = checksumLevels
	}
	for i := 0; i < n; i++ {
		lv := b.bids[b.bidPrices[i].String()]
		sb.WriteString(lv.Price.StringFixed(0))
		sb.WriteByte(':')
		sb.WriteString(lv.Size.StringFixed(0))
		sb.WriteByte(':')
	}
	n = len(b.askPrices)
	if n > checksumLevels {
		n = checksumLevels
	}
	for i := 0; i < n; i++ {
		lv := b.asks[b.askPrices[i].String()]
		sb.WriteString(lv.Price.StringFixed(0))
		sb.WriteByte(':')
		sb.WriteString(lv.Size.StringFixed(0))
		sb.WriteByte(':')
	}
	return crc32.ChecksumIEEE([]byte(sb.String()))
}

// BestBid 最优买价档位，空侧返回 nil
func (b *Book) BestBid() *Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBidLocked()
}

// BestAsk 最优卖价档位，空侧返回 nil
func (b *Book) BestAsk() *Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAskLocked()
}

func (b *Book) bestBidLocked() *Level {
	if len(b.bidPrices) == 0 {
		return nil
	}
	lv := b.bids[b.bidPrices[0].String()]
	cp := *lv
	return &cp
}

func (b *Book) bestAskLocked() *Level {
	if len(b.askPrices) == 0 {
		return nil
	}
	lv := b.asks[b.askPrices[0].String()]
	cp := *lv
	return &cp
}

// MidPrice 中间价。单侧为空时退化为另一侧最优价，两侧皆空返回 0。
func (b *Book) MidPrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.midPriceLocked()
}

func (b *Book) midPriceLocked() decimal.Decimal {
	bid := b.bestBidLocked()
	ask := b.bestAskLocked()
	switch {
	case bid != nil && ask != nil:
		return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
	case bid != nil:
		return bid.Price
	case ask != nil:
		return ask.Price
	default:
		return decimal.Zero
	}
}

// WeightedMidPrice 加权中间价 (bid*askSize + ask*bidSize)/(askSize+bidSize)。
// 两侧深度皆为 0 时退化为中间价。
func (b *Book) WeightedMidPrice() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid := b.bestBidLocked()
	ask := b.bestAskLocked()
	if bid == nil || ask == nil {
		return b.midPriceLocked()
	}
	denom := bid.Size.Add(ask.Size)
	if denom.IsZero() {
		return b.midPriceLocked()
	}
	num := bid.Price.Mul(ask.Size).Add(ask.Price.Mul(bid.Size))
	return num.Div(denom)
}

// Spread 绝对点差，单侧为空返回 0
func (b *Book) Spread() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid := b.bestBidLocked()
	ask := b.bestAskLocked()
	if bid == nil || ask == nil {
		return decimal.Zero
	}
	return ask.Price.Sub(bid.Price)
}

// SpreadBps 点差（基点）= spread/mid * 10000
func (b *Book) SpreadBps() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bid := b.bestBidLocked()
	ask := b.bestAskLocked()
	if bid == nil || ask == nil {
		return 0
	}
	mid := b.midPriceLocked()
	if mid.IsZero() {
		return 0
	}
	spread := ask.Price.Sub(bid.Price)
	v, _ := spread.Div(mid).Mul(decimal.NewFromInt(10000)).Float64()
	return v
}

// Bids 前 n 档买单（价格降序），n<=0 返回全部
func (b *Book) Bids(n int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sideLevelsLocked(b.bidPrices, b.bids, n)
}

// Asks 前 n 档卖单（价格升序），n<=0 返回全部
func (b *Book) Asks(n int) []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sideLevelsLocked(b.askPrices, b.asks, n)
}

func (b *Book) sideLevelsLocked(prices []decimal.Decimal, side map[string]*Level, n int) []Level {
	if n <= 0 || n > len(prices) {
		n = len(prices)
	}
	out := make([]Level, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, *side[prices[i].String()])
	}
	return out
}

// BidDepth 前 n 档买单深度之和
func (b *Book) BidDepth(n int) decimal.Decimal {
	sum := decimal.Zero
	for _, lv := range b.Bids(n) {
		sum = sum.Add(lv.Size)
	}
	return sum
}

// AskDepth 前 n 档卖单深度之和
func (b *Book) AskDepth(n int) decimal.Decimal {
	sum := decimal.Zero
	for _, lv := range b.Asks(n) {
		sum = sum.Add(lv.Size)
	}
	return sum
}

// DetectLiquidityVoid 扫描相邻档位间的价格断层。
// direction 取 "bid"/"ask"/"both"；相对间距超过 gapThreshold 记为一个真空区间。
func (b *Book) DetectLiquidityVoid(direction string, gapThreshold float64, scanLevels int) []Gap {
	var gaps []Gap
	if direction == "bid" || direction == "both" {
		gaps = append(gaps, scanGaps(b.Bids(scanLevels), gapThreshold, true)...)
	}
	if direction == "ask" || direction == "both" {
		gaps = append(gaps, scanGaps(b.Asks(scanLevels), gapThreshold, false)...)
	}
	return gaps
}

func scanGaps(levels []Level, threshold float64, descending bool) []Gap {
	var gaps []Gap
	for i := 0; i+1 < len(levels); i++ {
		cur, next := levels[i].Price, levels[i+1].Price
		var rel decimal.Decimal
		if descending {
			// 买侧价格降序，间距取 (cur-next)/cur
			rel = cur.Sub(next).Div(cur)
		} else {
			rel = next.Sub(cur).Div(cur)
		}
		if v, _ := rel.Float64(); v > threshold {
			gaps = append(gaps, Gap{Start: cur, End: next})
		}
	}
	return gaps
}

// DetectWall 按价格优先顺序先扫买侧再扫卖侧，
// 返回第一个深度 >= minDepth 的档位（不是最大的那个）。
func (b *Book) DetectWall(minDepth decimal.Decimal, scanLevels int) *Wall {
	for _, lv := range b.Bids(scanLevels) {
		if lv.Size.GreaterThanOrEqual(minDepth) {
			return &Wall{Side: "bid", Price: lv.Price, Depth: lv.Size}
		}
	}
	for _, lv := range b.Asks(scanLevels) {
		if lv.Size.GreaterThanOrEqual(minDepth) {
			return &Wall{Side: "ask", Price: lv.Price, Depth: lv.Size}
		}
	}
	return nil
}

// Sequence 已应用的更新序号
func (b *Book) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// UpdateCount 累计更新次数
func (b *Book) UpdateCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updateCount
}

// ErrorCount 累计校验失败次数
func (b *Book) ErrorCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.errorCount
}

// Consistent 校验和是否一致
func (b *Book) Consistent() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consistent
}

// LastUpdate 最后一次更新时间
func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// insertDesc 降序插入（买侧）
func insertDesc(prices []decimal.Decimal, p decimal.Decimal) []decimal.Decimal {
	i := sort.Search(len(prices), func(i int) bool {
		return prices[i].LessThan(p)
	})
	prices = append(prices, decimal.Decimal{})
	copy(prices[i+1:], prices[i:])
	prices[i] = p
	return prices
}

// insertAsc 升序插入（卖侧）
func insertAsc(prices []decimal.Decimal, p decimal.Decimal) []decimal.Decimal {
	i := sort.Search(len(prices), func(i int) bool {
		return prices[i].GreaterThan(p)
	})
	prices = append(prices, decimal.Decimal{})
	copy(prices[i+1:], prices[i:])
	prices[i] = p
	return prices
}

func removePrice(prices []decimal.Decimal, p decimal.Decimal) []decimal.Decimal {
	for i, v := range prices {
		if v.Equal(p) {
			return append(prices[:i], prices[i+1:]...)
		}
	}
	return prices
}
