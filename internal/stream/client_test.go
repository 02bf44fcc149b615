package stream

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignLogin(t *testing.T) {
	sig := signLogin("secret", "1700000000000")

	// 签名是 32 字节 HMAC-SHA256 的 base64
	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	// 相同输入确定性，不同时间戳不同签名
	assert.Equal(t, sig, signLogin("secret", "1700000000000"))
	assert.NotEqual(t, sig, signLogin("secret", "1700000000001"))
	assert.NotEqual(t, sig, signLogin("other", "1700000000000"))
}

func TestRouteChannel(t *testing.T) {
	assert.Equal(t, RouteTicker, routeChannel("tickers"))
	assert.Equal(t, RouteOrderBook, routeChannel("books"))
	assert.Equal(t, RouteOrderBook, routeChannel("books5"))
	assert.Equal(t, RouteOrderBook, routeChannel("books-l2-tbt"))
	assert.Equal(t, RouteTrades, routeChannel("trades"))
	assert.Equal(t, RouteLiquidation, routeChannel("liquidation-orders"))
	assert.Equal(t, RouteAccount, routeChannel("account"))
	assert.Equal(t, RouteOrders, routeChannel("orders"))
	assert.Empty(t, routeChannel("unknown-channel"))
}

func TestDispatchOrder(t *testing.T) {
	c := NewClient(Config{URL: "wss://example.invalid/ws"})

	var calls []int
	c.On(RouteOrderBook, func(m *Message) { calls = append(calls, 1) })
	c.On(RouteOrderBook, func(m *Message) { calls = append(calls, 2) })
	c.On(RouteOrderBook, func(m *Message) { calls = append(calls, 3) })
	c.On(RouteTrades, func(m *Message) { calls = append(calls, 99) })

	c.dispatch(&Message{
		Arg:  Arg{Channel: "books-l2-tbt", InstID: "BTC-USDT-SWAP"},
		Data: json.RawMessage(`[]`),
	})

	// 同一条消息按注册顺序串行调用，trades 的回调不被触发
	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestDispatchEventMessageSkipsHandlers(t *testing.T) {
	c := NewClient(Config{URL: "wss://example.invalid/ws"})
	called := false
	c.On(RouteOrderBook, func(m *Message) { called = true })

	c.dispatch(&Message{Event: "subscribe", Arg: Arg{Channel: "books"}})
	assert.False(t, called)
}

func TestMessageParsing(t *testing.T) {
	raw := `{"arg":{"channel":"books-l2-tbt","instId":"BTC-USDT-SWAP"},"action":"update","data":[{"bids":[["100","5","0","1"]],"asks":[],"checksum":-123456}]}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "update", msg.Action)
	assert.Equal(t, "books-l2-tbt", msg.Arg.Channel)
	assert.NotEmpty(t, msg.Data)
}
