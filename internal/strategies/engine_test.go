package strategies

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/changrenyuan/okx-auto/internal/domain"
)

type stubStrategy struct {
	Base
	emit bool
}

func newStub(name string, emit bool) *stubStrategy {
	return &stubStrategy{Base: NewBase(name), emit: emit}
}

func (s *stubStrategy) OnOrderBook() []*domain.Signal {
	if !s.emit {
		return nil
	}
	sig := domain.NewSignal(s.Name(), "BTC-USDT-SWAP", domain.ActionBuy)
	s.MarkGenerated(sig)
	return []*domain.Signal{sig}
}

type stubGate struct{ safe bool }

func (g *stubGate) IsSafe() bool { return g.safe }

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newStub("a", false)))
	require.NoError(t, reg.Register(newStub("b", false)))
	require.NoError(t, reg.Register(newStub("c", false)))

	assert.Equal(t, []string{"a", "b", "c"}, reg.List())
	assert.Error(t, reg.Register(newStub("a", false)))

	_, ok := reg.Get("b")
	assert.True(t, ok)
	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestEngineCollectsSignals(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newStub("emitter", true)))
	require.NoError(t, reg.Register(newStub("silent", false)))

	gate := &stubGate{safe: true}
	e := NewEngine(reg, gate)

	signals := e.OnOrderBook()
	require.Len(t, signals, 1)
	assert.Equal(t, "emitter", signals[0].Strategy)
}

func TestEngineSuppressedWhileTripped(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newStub("emitter", true)))

	gate := &stubGate{safe: false}
	e := NewEngine(reg, gate)
	assert.Empty(t, e.OnOrderBook())
	assert.Empty(t, e.OnTrade(&domain.TradeEvent{}))
	assert.Empty(t, e.OnTicker(&domain.Ticker{}))

	// 熔断恢复后照常评估
	gate.safe = true
	assert.Len(t, e.OnOrderBook(), 1)
}

func TestMarkExecuted(t *testing.T) {
	reg := NewRegistry()
	st := newStub("emitter", true)
	require.NoError(t, reg.Register(st))
	e := NewEngine(reg, nil)

	signals := e.OnOrderBook()
	require.Len(t, signals, 1)
	e.MarkExecuted(signals[0])

	stats := st.Stats()
	assert.Equal(t, int64(1), stats.Generated)
	assert.Equal(t, int64(1), stats.Executed)
}
