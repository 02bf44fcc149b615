package frontrun

import (
	"hash/crc32"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/orderbook"
	"github.com/changrenyuan/okx-auto/internal/strategies"
)

func sum(parts string) uint32 {
	return crc32.ChecksumIEEE([]byte(parts))
}

func newFixture(t *testing.T) (*orderbook.Book, *Strategy) {
	t.Helper()
	book := orderbook.New("BTC-USDT-SWAP")
	market := &strategies.Market{InstID: "BTC-USDT-SWAP", Book: book, Tape: domain.NewTradeTape(10)}
	s := New(Config{
		Enabled:             true,
		LargeTradeThreshold: decimal.NewFromInt(10),
		DepthDropRatio:      0.5,
		OrderSize:           decimal.NewFromFloat(0.01),
	}, market)
	return book, s
}

func setTop(t *testing.T, book *orderbook.Book, bidSize, askSize string) {
	t.Helper()
	parts := "100:" + bidSize + ":101:" + askSize + ":"
	require.NoError(t, book.ApplySnapshot(
		[][]string{{"100", bidSize, "1"}},
		[][]string{{"101", askSize, "1"}},
		sum(parts),
	))
}

func largeTrade(side domain.Side) *domain.TradeEvent {
	return &domain.TradeEvent{
		InstID:    "BTC-USDT-SWAP",
		TradeID:   "t1",
		Price:     decimal.NewFromInt(100),
		Size:      decimal.NewFromInt(15),
		Side:      side,
		Timestamp: time.Now(),
	}
}

func TestBuyCascadeOnAskCollapse(t *testing.T) {
	book, s := newFixture(t)

	// 建立卖侧深度历史：持续 100
	for i := 0; i < 5; i++ {
		setTop(t, book, "100", "100")
		s.OnOrderBook()
	}

	// 大买单出现且卖侧盘口塌缩到历史均值一半以下
	setTop(t, book, "100", "20")
	signals := s.OnTrade(largeTrade(domain.SideBuy))
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, ID, sig.Strategy)
	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, sig.Size.Equal(decimal.NewFromFloat(0.01)))
}

func TestSellCascadeOnBidCollapse(t *testing.T) {
	book, s := newFixture(t)
	for i := 0; i < 5; i++ {
		setTop(t, book, "200", "100")
		s.OnOrderBook()
	}
	setTop(t, book, "30", "100")
	signals := s.OnTrade(largeTrade(domain.SideSell))
	require.Len(t, signals, 1)
	assert.Equal(t, domain.ActionSell, signals[0].Action)
}

func TestSmallTradeIgnored(t *testing.T) {
	book, s := newFixture(t)
	for i := 0; i < 5; i++ {
		setTop(t, book, "100", "100")
		s.OnOrderBook()
	}
	setTop(t, book, "100", "20")

	tr := largeTrade(domain.SideBuy)
	tr.Size = decimal.NewFromInt(5) // 低于大单阈值
	assert.Empty(t, s.OnTrade(tr))
}

func TestNoSignalWithoutDepthCollapse(t *testing.T) {
	book, s := newFixture(t)
	for i := 0; i < 5; i++ {
		setTop(t, book, "100", "100")
		s.OnOrderBook()
	}
	// 对侧深度只降到 80%，未到断崖
	setTop(t, book, "100", "80")
	assert.Empty(t, s.OnTrade(largeTrade(domain.SideBuy)))
}
