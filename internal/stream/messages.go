package stream

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/changrenyuan/okx-auto/internal/domain"
)

// BookData 深度频道单条数据。档位数组为 [price, size, _, ordersCount]。
type BookData struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Ts        string     `json:"ts"`
	Checksum  int64      `json:"checksum"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

// ChecksumUint32 交易所的 checksum 是带符号 int32，转回无符号参与比较
func (d *BookData) ChecksumUint32() uint32 {
	return uint32(d.Checksum)
}

// BookData 解析深度消息负载
func (m *Message) BookData() ([]BookData, error) {
	var out []BookData
	if err := json.Unmarshal(m.Data, &out); err != nil {
		return nil, errors.Wrap(err, "decode book data")
	}
	return out, nil
}

// rawTrade 逐笔成交负载
type rawTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	Ts      string `json:"ts"`
}

// Trades 解析成交消息为领域事件
func (m *Message) Trades() ([]domain.TradeEvent, error) {
	var raws []rawTrade
	if err := json.Unmarshal(m.Data, &raws); err != nil {
		return nil, errors.Wrap(err, "decode trades")
	}
	out := make([]domain.TradeEvent, 0, len(raws))
	for _, r := range raws {
		px, err := decimal.NewFromString(r.Px)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade px %q", r.Px)
		}
		sz, err := decimal.NewFromString(r.Sz)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade sz %q", r.Sz)
		}
		out = append(out, domain.TradeEvent{
			InstID:    r.InstID,
			TradeID:   r.TradeID,
			Price:     px,
			Size:      sz,
			Side:      domain.Side(r.Side),
			Timestamp: parseMilli(r.Ts),
		})
	}
	return out, nil
}

// rawTicker 行情负载
type rawTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	Ts     string `json:"ts"`
}

// Tickers 解析行情消息
func (m *Message) Tickers() ([]domain.Ticker, error) {
	var raws []rawTicker
	if err := json.Unmarshal(m.Data, &raws); err != nil {
		return nil, errors.Wrap(err, "decode tickers")
	}
	out := make([]domain.Ticker, 0, len(raws))
	for _, r := range raws {
		tk := domain.Ticker{InstID: r.InstID, Timestamp: parseMilli(r.Ts)}
		tk.Last, _ = decimal.NewFromString(r.Last)
		tk.BidPrice, _ = decimal.NewFromString(r.BidPx)
		tk.BidSize, _ = decimal.NewFromString(r.BidSz)
		tk.AskPrice, _ = decimal.NewFromString(r.AskPx)
		tk.AskSize, _ = decimal.NewFromString(r.AskSz)
		out = append(out, tk)
	}
	return out, nil
}

func parseMilli(ts string) time.Time {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
