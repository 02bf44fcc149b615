package wallride

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

func newFixture(t *testing.T) (*orderbook.Book, *Strategy, *time.Time) {
	t.Helper()
	book := orderbook.New("BTC-USDT-SWAP")
	market := &strategies.Market{InstID: "BTC-USDT-SWAP", Book: book, Tape: domain.NewTradeTape(10)}
	s := New(Config{
		Enabled:            true,
		WallDepthThreshold: decimal.NewFromInt(100),
		Persistence:        5 * time.Second,
		AbsenceGrace:       2 * time.Second,
		OrderSize:          decimal.NewFromFloat(0.01),
		TickSize:           decimal.NewFromFloat(0.1),
		ScanLevels:         20,
	}, market)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return book, s, &now
}

func setBookWithWall(t *testing.T, book *orderbook.Book) {
	t.Helper()
	require.NoError(t, book.ApplySnapshot(
		[][]string{{"100", "5", "1"}, {"99", "150", "3"}},
		[][]string{{"101", "5", "1"}},
		sum("100:5:99:150:101:5:"),
	))
}

func setBookNoWall(t *testing.T, book *orderbook.Book) {
	t.Helper()
	require.NoError(t, book.ApplySnapshot(
		[][]string{{"100", "5", "1"}},
		[][]string{{"101", "5", "1"}},
		sum("100:5:101:5:"),
	))
}

func TestWallTrustRequiresPersistence(t *testing.T) {
	book, s, now := newFixture(t)
	setBookWithWall(t, book)

	// 每秒一个采样，墙龄不足 5 秒不给信号
	var signals []*domain.Signal
	for i := 0; i < 5; i++ {
		signals = s.OnOrderBook()
		assert.Emptyf(t, signals, "sample %d: wall age %ds should not be trusted", i+1, i)
		*now = now.Add(time.Second)
	}

	// 第 6 个采样墙龄到达 5 秒，贴墙挂单
	signals = s.OnOrderBook()
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, ID, sig.Strategy)
	assert.Equal(t, domain.ActionBuy, sig.Action)
	// 墙价 99，上方一个 tick
	assert.True(t, sig.Price.Equal(decimal.NewFromFloat(99.1)))
}

func TestWallRemovedAfterAbsenceGrace(t *testing.T) {
	book, s, now := newFixture(t)
	setBookWithWall(t, book)
	s.OnOrderBook()

	// 墙消失，宽限期内仍在观察表
	setBookNoWall(t, book)
	*now = now.Add(time.Second)
	s.OnOrderBook()
	assert.Len(t, s.walls, 1)

	// 连续缺席超过 2 秒出表
	*now = now.Add(2 * time.Second)
	s.OnOrderBook()
	assert.Empty(t, s.walls)

	// 重新出现按新墙计时，不继承旧墙龄
	setBookWithWall(t, book)
	*now = now.Add(10 * time.Second)
	assert.Empty(t, s.OnOrderBook())
}

func TestAskWallRidesBelow(t *testing.T) {
	book, s, now := newFixture(t)
	require.NoError(t, book.ApplySnapshot(
		[][]string{{"100", "5", "1"}},
		[][]string{{"101", "5", "1"}, {"102", "200", "4"}},
		sum("100:5:101:5:102:200:"),
	))

	s.OnOrderBook()
	*now = now.Add(5 * time.Second)
	signals := s.OnOrderBook()
	require.Len(t, signals, 1)
	assert.Equal(t, domain.ActionSell, signals[0].Action)
	assert.True(t, signals[0].Price.Equal(decimal.NewFromFloat(101.9)))
}

func TestDisabled(t *testing.T) {
	book, s, _ := newFixture(t)
	s.cfg.Enabled = false
	setBookWithWall(t, book)
	assert.Empty(t, s.OnOrderBook())
	assert.Empty(t, s.walls)
}
