package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/changrenyuan/okx-auto/internal/domain"
)

const coldSchema = `
CREATE TABLE IF NOT EXISTS orderbook_snapshots (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	inst_id TEXT    NOT NULL,
	ts      INTEGER NOT NULL,
	bids    TEXT    NOT NULL,
	asks    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_inst_ts ON orderbook_snapshots(inst_id, ts);

CREATE TABLE IF NOT EXISTS trades (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	inst_id  TEXT    NOT NULL,
	trade_id TEXT    NOT NULL,
	price    TEXT    NOT NULL,
	size     TEXT    NOT NULL,
	side     TEXT    NOT NULL,
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_inst_ts ON trades(inst_id, ts);
`

// ColdStore sqlite 冷层归档，供离线分析与回测取数
type ColdStore struct {
	db *sql.DB
}

// OpenCold 打开冷层数据库并初始化表结构
func OpenCold(path string) (*ColdStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open cold store %s", path)
	}
	if _, err := db.Exec(coldSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init cold schema")
	}
	return &ColdStore{db: db}, nil
}

// InsertSnapshot 归档一份盘口镜像
func (c *ColdStore) InsertSnapshot(top *BookTop) error {
	bids, err := json.Marshal(top.Bids)
	if err != nil {
		return errors.Wrap(err, "marshal bids")
	}
	asks, err := json.Marshal(top.Asks)
	if err != nil {
		return errors.Wrap(err, "marshal asks")
	}
	_, err = c.db.Exec(
		`INSERT INTO orderbook_snapshots (inst_id, ts, bids, asks) VALUES (?, ?, ?, ?)`,
		top.InstID, top.Ts.UnixMilli(), string(bids), string(asks),
	)
	return errors.Wrap(err, "insert snapshot")
}

// InsertTrades 批量归档成交，单事务提交
func (c *ColdStore) InsertTrades(trades []domain.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := c.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	stmt, err := tx.Prepare(
		`INSERT INTO trades (inst_id, trade_id, price, size, side, ts) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()
	for _, tr := range trades {
		if _, err := stmt.Exec(
			tr.InstID, tr.TradeID, tr.Price.String(), tr.Size.String(),
			string(tr.Side), tr.Timestamp.UnixMilli(),
		); err != nil {
			tx.Rollback()
			return errors.Wrap(err, "insert trade")
		}
	}
	return errors.Wrap(tx.Commit(), "commit trades")
}

// CountTrades 某标的归档成交数，测试与状态查询用
func (c *ColdStore) CountTrades(instID string) (int, error) {
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE inst_id = ?`, instID).Scan(&n)
	return n, errors.Wrap(err, "count trades")
}

// Close 关闭冷层
func (c *ColdStore) Close() error {
	return c.db.Close()
}
