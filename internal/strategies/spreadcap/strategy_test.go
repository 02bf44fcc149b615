package spreadcap

import (
	"hash/crc32"
	"testing"

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
	market := &strategies.Market{InstID: "BTC-USDT-SWAP", Book: book}
	s := New(Config{
		Enabled:      true,
		MinSpreadBps: 50,
		MaxSpreadBps: 200,
		OrderSize:    decimal.NewFromFloat(0.01),
	}, market)
	return book, s
}

func setBook(t *testing.T, book *orderbook.Book, bid, ask string) {
	t.Helper()
	parts := bid + ":5:" + ask + ":5:"
	require.NoError(t, book.ApplySnapshot(
		[][]string{{bid, "5", "1"}},
		[][]string{{ask, "5", "1"}},
		sum(parts),
	))
}

func TestQuotesInsideBand(t *testing.T) {
	book, s := newFixture(t)
	// 100/101 -> 约 99.5bps，落在 [50, 200]
	setBook(t, book, "100", "101")

	signals := s.OnOrderBook()
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, ID, sig.Strategy)
	assert.Equal(t, domain.ActionMarketMake, sig.Action)
	assert.True(t, sig.BidPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, sig.AskPrice.Equal(decimal.NewFromInt(101)))
	assert.InDelta(t, 0.8, sig.Confidence, 1e-9)
}

func TestSpreadTooTight(t *testing.T) {
	book, s := newFixture(t)
	// 10000/10001 -> 1bps
	setBook(t, book, "10000", "10001")
	assert.Empty(t, s.OnOrderBook())
}

func TestSpreadTooWide(t *testing.T) {
	book, s := newFixture(t)
	// 100/103 -> 约 296bps，行情异常不做市
	setBook(t, book, "100", "103")
	assert.Empty(t, s.OnOrderBook())
}

func TestDisabled(t *testing.T) {
	book, s := newFixture(t)
	s.cfg.Enabled = false
	setBook(t, book, "100", "101")
	assert.Empty(t, s.OnOrderBook())
}
