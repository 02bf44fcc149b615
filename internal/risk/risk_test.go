package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/ports"
)

type fakeExec struct {
	cancelCalls int
}

func (f *fakeExec) PlaceOrder(ctx context.Context, req *ports.OrderRequest) (string, error) {
	return "oid", nil
}

func (f *fakeExec) CancelAll(ctx context.Context, instID string) (int, error) {
	f.cancelCalls++
	return 3, nil
}

func (f *fakeExec) GetBalance(ctx context.Context) (*ports.Balance, error) {
	return &ports.Balance{}, nil
}

func (f *fakeExec) GetPositions(ctx context.Context) ([]*ports.Position, error) {
	return nil, nil
}

func newBreaker(exec ports.ExecutionClient) *CircuitBreaker {
	return NewCircuitBreaker(BreakerConfig{
		MaxLatencyMs: 100,
		MaxDailyLoss: 0.05,
		Instruments:  []string{"BTC-USDT-SWAP"},
	}, exec)
}

func TestBreakerTripsOnDailyLoss(t *testing.T) {
	exec := &fakeExec{}
	cb := newBreaker(exec)
	ctx := context.Background()

	cb.RecordBalance(10000)
	cb.check(ctx)
	assert.True(t, cb.IsSafe())

	// 亏损逐步走到 -6%
	for _, bal := range []float64{9900, 9700, 9400} {
		cb.RecordBalance(bal)
		cb.check(ctx)
	}
	assert.False(t, cb.IsSafe())

	st := cb.Status()
	assert.True(t, st.Triggered)
	assert.Equal(t, ReasonDailyLoss, st.Reason)
	assert.InDelta(t, -0.06, st.DailyLossRatio, 1e-9)

	// 触发期间再跑监控，撤单不重复执行
	cb.check(ctx)
	cb.check(ctx)
	assert.Equal(t, 1, exec.cancelCalls)
}

func TestBreakerSeedDailyStart(t *testing.T) {
	exec := &fakeExec{}
	cb := newBreaker(exec)
	ctx := context.Background()

	// 重启恢复的基准生效后，首个余额快照不再重置基准
	cb.SeedDailyStart(10000)
	cb.RecordBalance(9400)
	cb.check(ctx)
	assert.False(t, cb.IsSafe())
	assert.Equal(t, ReasonDailyLoss, cb.Status().Reason)
	assert.Equal(t, 10000.0, cb.Status().DailyStart)

	// 已有基准时不覆盖
	cb.SeedDailyStart(5000)
	assert.Equal(t, 10000.0, cb.Status().DailyStart)
}

func TestBreakerTripsOnLatency(t *testing.T) {
	exec := &fakeExec{}
	cb := newBreaker(exec)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		cb.RecordLatency(150)
	}
	cb.check(ctx)
	assert.False(t, cb.IsSafe())
	assert.Equal(t, ReasonLatency, cb.Status().Reason)
	assert.Equal(t, 1, exec.cancelCalls)
}

func TestBreakerManualReset(t *testing.T) {
	exec := &fakeExec{}
	cb := newBreaker(exec)
	ctx := context.Background()

	cb.RecordBalance(10000)
	cb.RecordBalance(9000)
	cb.check(ctx)
	require.False(t, cb.IsSafe())

	// 没有自动恢复，只有人工复位；复位后以当前余额为新起点
	cb.Reset()
	assert.True(t, cb.IsSafe())
	assert.Zero(t, cb.DailyLossRatio())

	cb.check(ctx)
	assert.True(t, cb.IsSafe())

	// 复位后再次触发会再撤一次单
	cb.RecordBalance(8000)
	cb.check(ctx)
	assert.False(t, cb.IsSafe())
	assert.Equal(t, 2, exec.cancelCalls)
}

type fixedLoss struct{ ratio float64 }

func (f *fixedLoss) DailyLossRatio() float64 { return f.ratio }

func newSignal(price, size float64) *domain.Signal {
	sig := domain.NewSignal("front_running", "BTC-USDT-SWAP", domain.ActionBuy)
	sig.Price = decimal.NewFromFloat(price)
	sig.Size = decimal.NewFromFloat(size)
	return sig
}

func balance(total, available float64) *ports.Balance {
	return &ports.Balance{
		Total:     decimal.NewFromFloat(total),
		Available: decimal.NewFromFloat(available),
	}
}

func TestPreTradeCheckApproves(t *testing.T) {
	m := NewManager(ManagerConfig{MaxPositionSize: 1000, LeverageLimit: 20}, &fixedLoss{})
	d := m.PreTradeCheck(newSignal(100, 5), balance(10000, 5000), nil)
	assert.True(t, d.Approved)
}

func TestPreTradeCheckOrdering(t *testing.T) {
	loss := &fixedLoss{}
	m := NewManager(ManagerConfig{MaxPositionSize: 1000, MaxDailyLoss: 0.05, LeverageLimit: 20}, loss)
	bal := balance(10000, 5000)

	// 仓位超限
	d := m.PreTradeCheck(newSignal(100, 50), bal, nil)
	require.False(t, d.Approved)
	assert.Equal(t, "max_position_size", d.Reason)

	// 保证金不足
	d = m.PreTradeCheck(newSignal(100, 5), balance(10000, 10), nil)
	require.False(t, d.Approved)
	assert.Equal(t, "insufficient_margin", d.Reason)

	// 杠杆超限
	positions := []*ports.Position{{Notional: decimal.NewFromInt(25000)}}
	d = m.PreTradeCheck(newSignal(100, 5), balance(1000, 1000), positions)
	require.False(t, d.Approved)
	assert.Equal(t, "leverage_limit", d.Reason)

	// 日亏硬停优先于仓位检查，并自动进入急停
	loss.ratio = -0.06
	d = m.PreTradeCheck(newSignal(100, 50), bal, nil)
	require.False(t, d.Approved)
	assert.Equal(t, "daily_loss_limit", d.Reason)
	assert.True(t, m.IsStopped())

	// 急停后一切拒绝
	loss.ratio = 0
	d = m.PreTradeCheck(newSignal(100, 1), bal, nil)
	require.False(t, d.Approved)
	assert.Equal(t, "emergency_stop", d.Reason)

	m.ResetEmergencyStop()
	assert.True(t, m.PreTradeCheck(newSignal(100, 1), bal, nil).Approved)
}

func TestKellyClamp(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil)

	// 冷启动参数：f = (0.55*0.02 - 0.45*0.015)/0.02 = 0.2125
	assert.InDelta(t, 0.2125*10000, m.kellyOptimal(10000), 1e-6)

	// 极端盈利统计被钳制在 25%
	for i := 0; i < 30; i++ {
		m.PostTradeCheck(0.10)
	}
	assert.InDelta(t, kellyCap*10000, m.kellyOptimal(10000), 1e-6)

	// 全败统计钳制在 0
	m2 := NewManager(ManagerConfig{MinTradesForKelly: 5}, nil)
	for i := 0; i < 10; i++ {
		m2.PostTradeCheck(-0.02)
	}
	assert.Zero(t, m2.kellyOptimal(10000))
}

func TestPostTradeStats(t *testing.T) {
	m := NewManager(ManagerConfig{}, &fixedLoss{ratio: -0.035})
	m.PostTradeCheck(0.02)
	m.PostTradeCheck(-0.01)
	m.PostTradeCheck(0.03)

	trades, wins := m.TradeStats()
	assert.Equal(t, 3, trades)
	assert.Equal(t, 2, wins)
	// -3.5% 只产生告警，不进入急停
	assert.False(t, m.IsStopped())
}
