// Package execution 实现交易所 REST 下单通道：
// 签名、下单/撤单/查询、延迟采样与异步下单队列。
// 执行失败对核心循环永远不是致命的。
package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/ports"
	"github.com/changrenyuan/okx-auto/pkg/cache"
	"github.com/changrenyuan/okx-auto/pkg/logger"
	"github.com/changrenyuan/okx-auto/pkg/ratelimit"
)

const latencyWindow = 100

// Config 执行通道配置
type Config struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
	// Simulated paper 模式走交易所模拟盘
	Simulated bool
	// TdMode 保证金模式，默认 cross
	TdMode string
	// QueueSize 异步下单队列长度
	QueueSize int
}

// apiResponse 交易所统一响应壳
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Instrument 合约元信息，带 TTL 缓存
type Instrument struct {
	InstID   string `json:"instId"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	InstType string `json:"instType"`
}

// Client 实现 ports.ExecutionClient 和 ports.LatencyReporter
type Client struct {
	cfg  Config
	http *resty.Client
	log  *logrus.Entry

	instruments *cache.InMemoryCache[string, *Instrument]
	limits      *ratelimit.Manager

	latMu     sync.Mutex
	latencies []float64

	// 每次延迟采样之后的回调，熔断器挂在这里
	onLatency func(ms float64)

	queue   chan *ports.OrderRequest
	started sync.Once
}

// NewClient 创建执行通道
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.okx.com"
	}
	if cfg.TdMode == "" {
		cfg.TdMode = "cross"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	c := &Client{
		cfg:         cfg,
		log:         logger.WithField("component", "execution"),
		instruments: cache.NewInMemoryCache[string, *Instrument](10 * time.Minute),
		limits:      ratelimit.NewManager(),
		queue:       make(chan *ports.OrderRequest, cfg.QueueSize),
	}

	c.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests ||
				r.StatusCode() >= http.StatusInternalServerError
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						return time.Duration(secs) * time.Second, nil
					}
				}
			}
			return 0, nil
		})
	c.http.OnBeforeRequest(c.signRequest)
	return c
}

// SetLatencyCallback 设置延迟采样回调（熔断器喂数）
func (c *Client) SetLatencyCallback(fn func(ms float64)) {
	c.onLatency = fn
}

// signRequest 给每个请求加上鉴权头：
// sign = base64(HMAC-SHA256(secret, ts + method + path + body))
func (c *Client) signRequest(_ *resty.Client, req *resty.Request) error {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.URL
	if len(req.QueryParam) > 0 {
		path += "?" + req.QueryParam.Encode()
	}
	var body string
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		body = string(raw)
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.SecretKey))
	mac.Write([]byte(ts + req.Method + path + body))

	req.SetHeader("OK-ACCESS-KEY", c.cfg.APIKey)
	req.SetHeader("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.SetHeader("OK-ACCESS-TIMESTAMP", ts)
	req.SetHeader("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	req.SetHeader("Content-Type", "application/json")
	if c.cfg.Simulated {
		req.SetHeader("x-simulated-trading", "1")
	}
	return nil
}

// recordLatency 记录一次请求耗时
func (c *Client) recordLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	c.latMu.Lock()
	if len(c.latencies) >= latencyWindow {
		copy(c.latencies, c.latencies[1:])
		c.latencies = c.latencies[:len(c.latencies)-1]
	}
	c.latencies = append(c.latencies, ms)
	c.latMu.Unlock()
	if c.onLatency != nil {
		c.onLatency(ms)
	}
}

// AvgLatencyMs 滚动平均请求延迟
func (c *Client) AvgLatencyMs() float64 {
	c.latMu.Lock()
	defer c.latMu.Unlock()
	if len(c.latencies) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.latencies {
		sum += v
	}
	return sum / float64(len(c.latencies))
}

// limitKeyFor 请求路径到限速端点的映射
func limitKeyFor(path string) string {
	switch path {
	case "/api/v5/trade/order":
		return "trade:order"
	case "/api/v5/trade/cancel-batch-orders", "/api/v5/trade/orders-pending":
		return "trade:cancel"
	case "/api/v5/account/balance":
		return "account:balance"
	case "/api/v5/account/positions":
		return "account:positions"
	case "/api/v5/public/instruments":
		return "public:instruments"
	default:
		return path
	}
}

// call 发起请求并解包响应壳，出站前先过本地限速
func (c *Client) call(ctx context.Context, method, path string, body interface{}, query map[string]string) (json.RawMessage, error) {
	if err := c.limits.Wait(ctx, limitKeyFor(path)); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if query != nil {
		req.SetQueryParams(query)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	c.recordLatency(time.Since(start))
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode(), resp.String())
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if envelope.Code != "0" {
		return nil, errors.Errorf("%s %s: code=%s msg=%s", method, path, envelope.Code, envelope.Msg)
	}
	return envelope.Data, nil
}

// ordTypeFor 把内部订单类型映射到交易所参数
func ordTypeFor(t ports.OrderType) string {
	switch t {
	case ports.OrderMarket:
		return "market"
	case ports.OrderPostOnly:
		return "post_only"
	case ports.OrderIOC:
		return "ioc"
	case ports.OrderFOK:
		return "fok"
	default:
		return "limit"
	}
}

// PlaceOrder 同步下单，返回交易所订单号
func (c *Client) PlaceOrder(ctx context.Context, req *ports.OrderRequest) (string, error) {
	body := map[string]string{
		"instId":  req.InstID,
		"tdMode":  c.tdModeFor(req),
		"side":    string(req.Side),
		"ordType": ordTypeFor(req.Type),
		"sz":      req.Size.String(),
	}
	if req.Type != ports.OrderMarket {
		body["px"] = req.Price.String()
	}
	if req.ClOrdID != "" {
		body["clOrdId"] = req.ClOrdID
	}

	data, err := c.call(ctx, http.MethodPost, "/api/v5/trade/order", []map[string]string{body}, nil)
	if err != nil {
		return "", err
	}
	var results []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return "", errors.Wrap(err, "decode order result")
	}
	if len(results) == 0 {
		return "", errors.New("empty order result")
	}
	if results[0].SCode != "0" {
		return "", errors.Errorf("order rejected: sCode=%s sMsg=%s", results[0].SCode, results[0].SMsg)
	}
	c.log.WithFields(logrus.Fields{
		"instId": req.InstID,
		"side":   req.Side,
		"px":     req.Price,
		"sz":     req.Size,
		"ordId":  results[0].OrdID,
	}).Info("下单成功")
	return results[0].OrdID, nil
}

func (c *Client) tdModeFor(req *ports.OrderRequest) string {
	if req.TdMode != "" {
		return req.TdMode
	}
	return c.cfg.TdMode
}

// CancelAll 撤掉某标的的全部挂单，返回撤单数量
func (c *Client) CancelAll(ctx context.Context, instID string) (int, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/trade/orders-pending", nil, map[string]string{"instId": instID})
	if err != nil {
		return 0, err
	}
	var pending []struct {
		InstID string `json:"instId"`
		OrdID  string `json:"ordId"`
	}
	if err := json.Unmarshal(data, &pending); err != nil {
		return 0, errors.Wrap(err, "decode pending orders")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	batch := make([]map[string]string, 0, len(pending))
	for _, o := range pending {
		batch = append(batch, map[string]string{"instId": o.InstID, "ordId": o.OrdID})
	}
	if _, err := c.call(ctx, http.MethodPost, "/api/v5/trade/cancel-batch-orders", batch, nil); err != nil {
		return 0, err
	}
	c.log.WithFields(logrus.Fields{"instId": instID, "count": len(pending)}).Info("批量撤单完成")
	return len(pending), nil
}

// GetBalance 查询 USDT 余额
func (c *Client) GetBalance(ctx context.Context) (*ports.Balance, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/account/balance", nil, map[string]string{"ccy": "USDT"})
	if err != nil {
		return nil, err
	}
	var accounts []struct {
		Details []struct {
			Ccy     string `json:"ccy"`
			Eq      string `json:"eq"`
			AvailEq string `json:"availEq"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, errors.Wrap(err, "decode balance")
	}
	bal := &ports.Balance{}
	for _, acc := range accounts {
		for _, d := range acc.Details {
			if d.Ccy != "USDT" {
				continue
			}
			bal.Total, _ = decimal.NewFromString(d.Eq)
			bal.Available, _ = decimal.NewFromString(d.AvailEq)
			return bal, nil
		}
	}
	return bal, nil
}

// GetPositions 查询全部持仓
func (c *Client) GetPositions(ctx context.Context) ([]*ports.Position, error) {
	data, err := c.call(ctx, http.MethodGet, "/api/v5/account/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var raws []struct {
		InstID      string `json:"instId"`
		PosSide     string `json:"posSide"`
		Pos         string `json:"pos"`
		AvgPx       string `json:"avgPx"`
		UplRatio    string `json:"uplRatio"`
		NotionalUsd string `json:"notionalUsd"`
	}
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, errors.Wrap(err, "decode positions")
	}
	out := make([]*ports.Position, 0, len(raws))
	for _, r := range raws {
		p := &ports.Position{InstID: r.InstID, Side: r.PosSide}
		p.Size, _ = decimal.NewFromString(r.Pos)
		p.AvgPrice, _ = decimal.NewFromString(r.AvgPx)
		p.UplRatio, _ = decimal.NewFromString(r.UplRatio)
		p.Notional, _ = decimal.NewFromString(r.NotionalUsd)
		out = append(out, p)
	}
	return out, nil
}

// GetInstrument 查询合约元信息，结果缓存 10 分钟
func (c *Client) GetInstrument(ctx context.Context, instType, instID string) (*Instrument, error) {
	if inst, ok := c.instruments.Get(instID); ok {
		return inst, nil
	}
	data, err := c.call(ctx, http.MethodGet, "/api/v5/public/instruments", nil, map[string]string{
		"instType": instType,
		"instId":   instID,
	})
	if err != nil {
		return nil, err
	}
	var insts []*Instrument
	if err := json.Unmarshal(data, &insts); err != nil {
		return nil, errors.Wrap(err, "decode instruments")
	}
	if len(insts) == 0 {
		return nil, errors.Errorf("instrument %s not found", instID)
	}
	c.instruments.Set(instID, insts[0], 0)
	return insts[0], nil
}

// Enqueue 异步下单：满队列直接丢弃并告警，从不阻塞调用方
func (c *Client) Enqueue(req *ports.OrderRequest) {
	select {
	case c.queue <- req:
	default:
		c.log.WithField("instId", req.InstID).Warn("下单队列已满，丢弃请求")
	}
}

// StartQueueWorker 启动异步下单消费者
func (c *Client) StartQueueWorker(ctx context.Context) {
	c.started.Do(func() {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case req := <-c.queue:
					if _, err := c.PlaceOrder(ctx, req); err != nil {
						c.log.WithError(err).WithFields(logrus.Fields{
							"instId": req.InstID,
							"side":   req.Side,
						}).Warn("异步下单失败")
					}
				}
			}
		}()
	})
}

// 确保接口实现完整
var (
	_ ports.ExecutionClient = (*Client)(nil)
	_ ports.LatencyReporter = (*Client)(nil)
)

// PaperSummary 便于日志输出的模式描述
func (c *Client) PaperSummary() string {
	if c.cfg.Simulated {
		return fmt.Sprintf("simulated trading via %s", c.cfg.BaseURL)
	}
	return fmt.Sprintf("live trading via %s", c.cfg.BaseURL)
}
