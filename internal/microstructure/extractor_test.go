package microstructure

import (
	"fmt"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/orderbook"
)

func sum(parts string) uint32 {
	return crc32.ChecksumIEEE([]byte(parts))
}

// fakeClock 可控时钟，保证窗口计算确定
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) (*orderbook.Book, *Extractor, *fakeClock) {
	t.Helper()
	book := orderbook.New("BTC-USDT-SWAP")
	ex := NewExtractor(book, domain.NewTradeTape(100))
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	ex.now = clock.now
	return book, ex, clock
}

// setTopOfBook 把最优档位设置为给定买卖量
func setTopOfBook(t *testing.T, book *orderbook.Book, bidSize, askSize int) {
	t.Helper()
	parts := fmt.Sprintf("100:%d:101:%d:", bidSize, askSize)
	err := book.ApplySnapshot(
		[][]string{{"100", fmt.Sprintf("%d", bidSize), "1"}},
		[][]string{{"101", fmt.Sprintf("%d", askSize), "1"}},
		sum(parts),
	)
	require.NoError(t, err)
}

func TestOFIRequiresTwoSamples(t *testing.T) {
	book, ex, _ := newFixture(t)
	setTopOfBook(t, book, 10, 10)
	ex.Update()
	assert.Zero(t, ex.OFI(time.Second))
}

func TestOFITrendRising(t *testing.T) {
	book, ex, clock := newFixture(t)
	// 最优买量单调上升，卖量不变
	for i := 0; i < 10; i++ {
		setTopOfBook(t, book, 10+i, 10)
		ex.Update()
		clock.advance(100 * time.Millisecond)
	}
	assert.Equal(t, "rising", ex.OFITrend(10))
}

func TestOFITrendNeedsFullWindow(t *testing.T) {
	book, ex, clock := newFixture(t)
	for i := 0; i < 5; i++ {
		setTopOfBook(t, book, 10+i, 10)
		ex.Update()
		clock.advance(100 * time.Millisecond)
	}
	assert.Equal(t, "stable", ex.OFITrend(10))
}

func TestSpreadStatus(t *testing.T) {
	book, ex, _ := newFixture(t)

	// 100/101 -> 约 99.5bps
	setTopOfBook(t, book, 5, 5)
	assert.Equal(t, "extreme", ex.SpreadStatus())

	// 10000/10030 -> 约 30bps
	require.Error(t, book.ApplySnapshot(
		[][]string{{"10000", "5", "1"}},
		[][]string{{"10030", "5", "1"}},
		0,
	)) // 校验和故意不匹配，状态仍提交
	assert.Equal(t, "wide", ex.SpreadStatus())

	// 10000/10001 -> 1bps
	_ = book.ApplySnapshot(
		[][]string{{"10000", "5", "1"}},
		[][]string{{"10001", "5", "1"}},
		sum("10000:5:10001:5:"),
	)
	assert.Equal(t, "normal", ex.SpreadStatus())
}

func TestDetectLiquiditySqueeze(t *testing.T) {
	book, ex, _ := newFixture(t)
	setTopOfBook(t, book, 95, 5)
	squeezed, imbalance := ex.DetectLiquiditySqueeze(0.7)
	assert.True(t, squeezed)
	assert.InDelta(t, 0.9, imbalance, 1e-9)

	setTopOfBook(t, book, 60, 40)
	squeezed, _ = ex.DetectLiquiditySqueeze(0.7)
	assert.False(t, squeezed)
}

func TestDetectSpoofing(t *testing.T) {
	book, ex, clock := newFixture(t)

	setTopOfBook(t, book, 50, 5)
	ex.Update()
	clock.advance(100 * time.Millisecond)
	ex.Update()
	clock.advance(100 * time.Millisecond)
	ex.Update()
	assert.False(t, ex.DetectSpoofing())

	// 大单撤走：当前深度塌缩到两个采样前的 30% 以下
	setTopOfBook(t, book, 10, 5)
	assert.True(t, ex.DetectSpoofing())
}

func TestClassifyGamblerPanicSelling(t *testing.T) {
	book, ex, clock := newFixture(t)
	// 点差 extreme（100/101），买量持续坍塌 -> 卖压 + falling
	for i := 0; i <= 10; i++ {
		setTopOfBook(t, book, 2000-i*30, 2000)
		ex.Update()
		clock.advance(50 * time.Millisecond)
	}
	b := ex.ClassifyGamblerBehavior()
	assert.True(t, b.PanicSelling)
	assert.False(t, b.FomoBuying)
	assert.False(t, b.PanicCovering)
}

func TestSnapshotIdempotent(t *testing.T) {
	book, ex, _ := newFixture(t)
	setTopOfBook(t, book, 5, 2)
	ex.Update()
	s1 := ex.Snapshot()
	s2 := ex.Snapshot()
	assert.Equal(t, s1, s2)
}
