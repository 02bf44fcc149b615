package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/ports"
)

func sampleTop(instID string) *BookTop {
	return &BookTop{
		InstID: instID,
		Bids: []ports.BookLevel{
			{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(5)},
		},
		Asks: []ports.BookLevel{
			{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(2)},
		},
		Ts: time.Now(),
	}
}

func sampleTrade(instID, tradeID string, side domain.Side, size int64) *domain.TradeEvent {
	return &domain.TradeEvent{
		InstID:    instID,
		TradeID:   tradeID,
		Price:     decimal.NewFromInt(100),
		Size:      decimal.NewFromInt(size),
		Side:      side,
		Timestamp: time.Now(),
	}
}

func TestHotStore(t *testing.T) {
	h := NewHotStore(100)
	h.SetTop(sampleTop("BTC-USDT-SWAP"))

	top := h.Top("BTC-USDT-SWAP")
	require.NotNil(t, top)
	assert.True(t, top.Bids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, h.Top("ETH-USDT-SWAP"))

	h.AddTrade(sampleTrade("BTC-USDT-SWAP", "1", domain.SideBuy, 6))
	h.AddTrade(sampleTrade("BTC-USDT-SWAP", "2", domain.SideSell, 2))
	h.AddTrade(sampleTrade("BTC-USDT-SWAP", "3", domain.SideBuy, 4))

	assert.Len(t, h.RecentTrades("BTC-USDT-SWAP", 10), 3)
	assert.InDelta(t, 5.0, h.BuySellRatio("BTC-USDT-SWAP", time.Minute), 1e-9)

	stats := h.Stats()
	assert.Equal(t, 1, stats.Instruments)
	assert.Equal(t, int64(1), stats.BookUpdates)
	assert.Equal(t, int64(3), stats.Trades)
}

func TestWarmStoreRoundTrip(t *testing.T) {
	w, err := OpenWarm(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.PutBookTop(sampleTop("BTC-USDT-SWAP")))
	top, err := w.GetBookTop("BTC-USDT-SWAP")
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.True(t, top.Asks[0].Price.Equal(decimal.NewFromInt(101)))

	missing, err := w.GetBookTop("ETH-USDT-SWAP")
	require.NoError(t, err)
	assert.Nil(t, missing)

	since := time.Now().Add(-time.Minute)
	require.NoError(t, w.PutTrade(sampleTrade("BTC-USDT-SWAP", "t1", domain.SideBuy, 1)))
	require.NoError(t, w.PutTrade(sampleTrade("BTC-USDT-SWAP", "t2", domain.SideSell, 2)))
	trades, err := w.TradesSince("BTC-USDT-SWAP", since)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestWarmStoreAccountState(t *testing.T) {
	w, err := OpenWarm(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	missing, err := w.GetAccountState()
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, w.PutAccountState(&AccountState{
		TotalBalance:     10000,
		AvailableBalance: 8000,
		DailyStart:       10200,
		TradingEnabled:   true,
		UpdatedAt:        time.Now(),
	}))
	st, err := w.GetAccountState()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 10200.0, st.DailyStart)
	assert.True(t, st.TradingEnabled)
}

func TestColdStoreArchive(t *testing.T) {
	c, err := OpenCold(filepath.Join(t.TempDir(), "cold.db"))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.InsertSnapshot(sampleTop("BTC-USDT-SWAP")))
	require.NoError(t, c.InsertTrades([]domain.TradeEvent{
		*sampleTrade("BTC-USDT-SWAP", "1", domain.SideBuy, 1),
		*sampleTrade("BTC-USDT-SWAP", "2", domain.SideSell, 2),
	}))

	n, err := c.CountTrades("BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestManagerFlowAndShutdownFlush(t *testing.T) {
	cold, err := OpenCold(filepath.Join(t.TempDir(), "cold.db"))
	require.NoError(t, err)
	defer cold.Close()

	m := NewManager(ManagerConfig{ColdSyncInterval: time.Hour}, NewHotStore(100), nil, cold)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Start(ctx)

	m.PushBookTop("BTC-USDT-SWAP",
		[]ports.BookLevel{{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(5)}},
		[]ports.BookLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(2)}},
		time.Now(),
	)
	m.PushTrade(sampleTrade("BTC-USDT-SWAP", "1", domain.SideBuy, 3))

	// 等热层消费
	require.Eventually(t, func() bool {
		return m.Hot().Top("BTC-USDT-SWAP") != nil && m.Hot().Stats().Trades == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 停机收尾时未到同步周期的数据也要落冷层
	cancel()
	m.Wait()

	n, err := cold.CountTrades("BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
