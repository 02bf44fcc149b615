package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/changrenyuan/okx-auto/internal/domain"
)

// 温层保留时长：盘口只留最新值，成交保留一天
const warmTradeTTL = 24 * time.Hour

// WarmStore badger 温层，进程重启后可恢复最近状态
type WarmStore struct {
	db *badger.DB
}

// OpenWarm 打开温层数据库
func OpenWarm(path string) (*WarmStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open warm store %s", path)
	}
	return &WarmStore{db: db}, nil
}

// PutBookTop 写入最新盘口镜像（覆盖）
func (w *WarmStore) PutBookTop(top *BookTop) error {
	data, err := json.Marshal(top)
	if err != nil {
		return errors.Wrap(err, "marshal book top")
	}
	key := []byte("book:" + top.InstID)
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// GetBookTop 读取最新盘口镜像，不存在返回 nil
func (w *WarmStore) GetBookTop(instID string) (*BookTop, error) {
	var top *BookTop
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("book:" + instID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			top = &BookTop{}
			return json.Unmarshal(val, top)
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get book top %s", instID)
	}
	return top, nil
}

// PutTrade 写入成交，带一天 TTL
func (w *WarmStore) PutTrade(tr *domain.TradeEvent) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return errors.Wrap(err, "marshal trade")
	}
	key := []byte(fmt.Sprintf("trade:%s:%d:%s", tr.InstID, tr.Timestamp.UnixMilli(), tr.TradeID))
	return w.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data).WithTTL(warmTradeTTL)
		return txn.SetEntry(entry)
	})
}

// TradesSince 读取某标的自给定时间以来的成交
func (w *WarmStore) TradesSince(instID string, since time.Time) ([]domain.TradeEvent, error) {
	var out []domain.TradeEvent
	prefix := []byte("trade:" + instID + ":")
	start := []byte(fmt.Sprintf("trade:%s:%d", instID, since.UnixMilli()))
	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var tr domain.TradeEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tr)
			}); err != nil {
				return err
			}
			out = append(out, tr)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "trades since %s", instID)
	}
	return out, nil
}

// AccountState 账户快照，重启后用于恢复当日盈亏基准
type AccountState struct {
	TotalBalance     float64   `json:"totalBalance"`
	AvailableBalance float64   `json:"availableBalance"`
	DailyStart       float64   `json:"dailyStart"`
	TradingEnabled   bool      `json:"tradingEnabled"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// PutAccountState 写入账户快照（覆盖）
func (w *WarmStore) PutAccountState(st *AccountState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal account state")
	}
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("account:state"), data)
	})
}

// GetAccountState 读取账户快照，不存在返回 nil
func (w *WarmStore) GetAccountState() (*AccountState, error) {
	var st *AccountState
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("account:state"))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			st = &AccountState{}
			return json.Unmarshal(val, st)
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "get account state")
	}
	return st, nil
}

// Close 关闭温层
func (w *WarmStore) Close() error {
	return w.db.Close()
}
