// Package stream 实现交易所 WebSocket 协议状态机：
// 连接、鉴权、订阅、消息分发与断线重连。
package stream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSubscribed
	StateListening
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// 内部路由键
const (
	RouteTicker      = "ticker"
	RouteOrderBook   = "orderbook"
	RouteTrades      = "trades"
	RouteLiquidation = "liquidation"
	RouteAccount     = "account"
	RouteOrders      = "orders"
)

// routeChannel 把频道名映射为内部路由键，未知频道返回空串
func routeChannel(channel string) string {
	switch channel {
	case "tickers":
		return RouteTicker
	case "books", "books5", "books-l2-tbt":
		return RouteOrderBook
	case "trades":
		return RouteTrades
	case "liquidation-orders":
		return RouteLiquidation
	case "account":
		return RouteAccount
	case "orders":
		return RouteOrders
	default:
		return ""
	}
}

// Arg 订阅参数
type Arg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

// Message 入站消息。事件消息带 Event/Code，数据消息带 Arg/Data。
type Message struct {
	Event  string          `json:"event,omitempty"`
	Code   string          `json:"code,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Action string          `json:"action,omitempty"`
	Arg    Arg             `json:"arg,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Handler 频道订阅回调。同一条消息按注册顺序串行调用，绝不并发。
type Handler func(*Message)

// Config 流客户端配置
type Config struct {
	URL            string
	APIKey         string
	SecretKey      string
	Passphrase     string
	Private        bool // 是否私有频道（需要登录）
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
	LoginTimeout   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 5 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 30 * time.Second
	}
	if out.LoginTimeout <= 0 {
		out.LoginTimeout = 10 * time.Second
	}
	return out
}

// Client WebSocket 流客户端
type Client struct {
	cfg Config
	log *logrus.Entry

	mu   sync.Mutex // 保护 conn 和写操作
	conn *websocket.Conn

	state   atomic.Int32
	running atomic.Bool

	handlerMu sync.RWMutex
	handlers  map[string][]Handler

	subMu sync.Mutex
	subs  []Arg

	loginAck chan error
}

// NewClient 创建流客户端
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		log:      logger.WithField("component", "stream"),
		handlers: make(map[string][]Handler),
	}
}

// State 当前连接状态
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// On 注册频道回调。route 取 RouteTicker 等路由键。
func (c *Client) On(route string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[route] = append(c.handlers[route], h)
}

// signLogin 生成登录签名：base64(HMAC-SHA256(secret, ts + "GET" + "/users/self/verify"))
func signLogin(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "GET" + "/users/self/verify"))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Connect 建立连接；私有频道同步完成登录。
// 鉴权失败对本次连接是致命的，直接返回错误，不做静默重试。
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	if c.cfg.Private {
		c.setState(StateAuthenticating)
		if err := c.login(); err != nil {
			c.closeConn()
			c.setState(StateDisconnected)
			return errors.Wrap(err, "login failed")
		}
	}
	c.setState(StateSubscribed)
	c.running.Store(true)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", c.cfg.URL)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) login() error {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	req := map[string]interface{}{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     c.cfg.APIKey,
			"passphrase": c.cfg.Passphrase,
			"timestamp":  ts,
			"sign":       signLogin(c.cfg.SecretKey, ts),
		}},
	}
	c.loginAck = make(chan error, 1)
	if err := c.writeJSON(req); err != nil {
		return err
	}

	// 登录确认也从读路径来，这里临时读一条
	deadline := time.Now().Add(c.cfg.LoginTimeout)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return errors.New("connection closed during login")
		}
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "waiting login ack")
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "login":
			if msg.Code != "" && msg.Code != "0" {
				return errors.Errorf("login rejected: code=%s msg=%s", msg.Code, msg.Msg)
			}
			return nil
		case "error":
			return errors.Errorf("login error: code=%s msg=%s", msg.Code, msg.Msg)
		default:
			// 其他消息先分发再继续等
			c.dispatch(&msg)
		}
	}
}

// Subscribe 发送订阅请求并记住订阅集，断线后用于重放
func (c *Client) Subscribe(args ...Arg) error {
	if len(args) == 0 {
		return nil
	}
	c.subMu.Lock()
	c.subs = append(c.subs, args...)
	c.subMu.Unlock()
	return c.writeJSON(map[string]interface{}{"op": "subscribe", "args": args})
}

// Unsubscribe 取消订阅并从订阅集移除
func (c *Client) Unsubscribe(args ...Arg) error {
	if len(args) == 0 {
		return nil
	}
	c.subMu.Lock()
	var kept []Arg
	for _, s := range c.subs {
		drop := false
		for _, a := range args {
			if s.Channel == a.Channel && s.InstID == a.InstID {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	c.subs = kept
	c.subMu.Unlock()
	return c.writeJSON(map[string]interface{}{"op": "unsubscribe", "args": args})
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) writeText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// Listen 监听循环。读超时发 ping 保活；连接断开进入重连。
// 阻塞直到 ctx 取消或 Stop 被调用。
func (c *Client) Listen(ctx context.Context) {
	c.setState(StateListening)
	for c.running.Load() {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if perr := c.writeText("ping"); perr != nil {
					c.log.WithError(perr).Warn("心跳发送失败，准备重连")
					if !c.reconnect(ctx) {
						return
					}
				}
				continue
			}
			if !c.running.Load() {
				return
			}
			c.log.WithError(err).Warn("连接断开，准备重连")
			if !c.reconnect(ctx) {
				return
			}
			continue
		}

		if string(data) == "pong" {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Debug("丢弃无法解析的消息")
			continue
		}
		c.dispatch(&msg)
	}
}

// dispatch 按频道路由，订阅者按注册顺序串行调用
func (c *Client) dispatch(msg *Message) {
	if msg.Event != "" {
		switch msg.Event {
		case "subscribe", "unsubscribe":
			c.log.WithFields(logrus.Fields{
				"event":   msg.Event,
				"channel": msg.Arg.Channel,
				"instId":  msg.Arg.InstID,
			}).Debug("订阅状态变更")
		case "error":
			c.log.WithFields(logrus.Fields{"code": msg.Code, "msg": msg.Msg}).Error("服务端错误事件")
		}
		return
	}
	route := routeChannel(msg.Arg.Channel)
	if route == "" {
		return
	}
	c.handlerMu.RLock()
	handlers := c.handlers[route]
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

// reconnect 退避重连 + 重放订阅。返回 false 表示客户端已停止。
func (c *Client) reconnect(ctx context.Context) bool {
	c.setState(StateReconnecting)
	c.closeConn()

	for c.running.Load() {
		select {
		case <-ctx.Done():
			c.Stop()
			return false
		case <-time.After(c.cfg.ReconnectDelay):
		}

		if err := c.dial(ctx); err != nil {
			c.log.WithError(err).Warn("重连失败，继续重试")
			continue
		}
		if c.cfg.Private {
			if err := c.login(); err != nil {
				c.log.WithError(err).Warn("重连后登录失败，继续重试")
				c.closeConn()
				continue
			}
		}
		c.subMu.Lock()
		subs := make([]Arg, len(c.subs))
		copy(subs, c.subs)
		c.subMu.Unlock()
		if len(subs) > 0 {
			if err := c.writeJSON(map[string]interface{}{"op": "subscribe", "args": subs}); err != nil {
				c.log.WithError(err).Warn("重放订阅失败，继续重试")
				c.closeConn()
				continue
			}
		}
		c.log.Info("重连成功，订阅已恢复")
		c.setState(StateListening)
		return true
	}
	return false
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Stop 停止客户端并关闭连接
func (c *Client) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.closeConn()
	c.setState(StateDisconnected)
}
