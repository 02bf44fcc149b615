package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/ports"
	"github.com/changrenyuan/okx-auto/pkg/logger"
)

// ManagerConfig 存储编排配置
type ManagerConfig struct {
	// ColdSyncInterval 冷层同步周期
	ColdSyncInterval time.Duration
	// ChannelSize 推送通道容量，打满直接丢弃
	ChannelSize int
}

// Manager 实现 ports.StorageSink：热层即时更新，温层跟写，
// 冷层按周期批量归档。推送永不阻塞调用方。
type Manager struct {
	cfg  ManagerConfig
	hot  *HotStore
	warm *WarmStore
	cold *ColdStore
	log  *logrus.Entry

	booksCh  chan *BookTop
	tradesCh chan *domain.TradeEvent
	done     chan struct{}
}

// NewManager 创建存储编排器。warm/cold 可为 nil（按层关闭）。
func NewManager(cfg ManagerConfig, hot *HotStore, warm *WarmStore, cold *ColdStore) *Manager {
	if cfg.ColdSyncInterval <= 0 {
		cfg.ColdSyncInterval = time.Minute
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 1024
	}
	return &Manager{
		cfg:      cfg,
		hot:      hot,
		warm:     warm,
		cold:     cold,
		log:      logger.WithField("component", "storage"),
		booksCh:  make(chan *BookTop, cfg.ChannelSize),
		tradesCh: make(chan *domain.TradeEvent, cfg.ChannelSize),
		done:     make(chan struct{}),
	}
}

// Hot 暴露热层供状态查询
func (m *Manager) Hot() *HotStore { return m.hot }

// PushBookTop 尽力推送盘口更新，通道满则丢弃
func (m *Manager) PushBookTop(instID string, bids, asks []ports.BookLevel, ts time.Time) {
	top := &BookTop{InstID: instID, Bids: bids, Asks: asks, Ts: ts}
	select {
	case m.booksCh <- top:
	default:
	}
}

// PushTrade 尽力推送成交事件，通道满则丢弃
func (m *Manager) PushTrade(tr *domain.TradeEvent) {
	select {
	case m.tradesCh <- tr:
	default:
	}
}

// Start 启动消费与归档循环，阻塞直到 ctx 取消并完成收尾
func (m *Manager) Start(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.ColdSyncInterval)
	defer ticker.Stop()

	var pendingTrades []domain.TradeEvent

	for {
		select {
		case <-ctx.Done():
			m.drain(&pendingTrades)
			m.syncToCold(pendingTrades)
			m.log.Info("存储层收尾完成")
			return
		case top := <-m.booksCh:
			m.hot.SetTop(top)
			if m.warm != nil {
				if err := m.warm.PutBookTop(top); err != nil {
					m.log.WithError(err).Debug("温层盘口写入失败")
				}
			}
		case tr := <-m.tradesCh:
			m.hot.AddTrade(tr)
			pendingTrades = append(pendingTrades, *tr)
			if m.warm != nil {
				if err := m.warm.PutTrade(tr); err != nil {
					m.log.WithError(err).Debug("温层成交写入失败")
				}
			}
		case <-ticker.C:
			m.syncToCold(pendingTrades)
			pendingTrades = pendingTrades[:0]
		}
	}
}

// drain 收尾前清空通道剩余数据
func (m *Manager) drain(pendingTrades *[]domain.TradeEvent) {
	for {
		select {
		case top := <-m.booksCh:
			m.hot.SetTop(top)
		case tr := <-m.tradesCh:
			m.hot.AddTrade(tr)
			*pendingTrades = append(*pendingTrades, *tr)
		default:
			return
		}
	}
}

// syncToCold 把积累的成交和每个标的的最新盘口批量写入冷层
func (m *Manager) syncToCold(trades []domain.TradeEvent) {
	if m.cold == nil {
		return
	}
	if err := m.cold.InsertTrades(trades); err != nil {
		m.log.WithError(err).Warn("冷层成交归档失败")
	}
	m.hot.mu.RLock()
	tops := make([]*BookTop, 0, len(m.hot.tops))
	for _, top := range m.hot.tops {
		tops = append(tops, top)
	}
	m.hot.mu.RUnlock()
	for _, top := range tops {
		if err := m.cold.InsertSnapshot(top); err != nil {
			m.log.WithError(err).Warn("冷层盘口归档失败")
		}
	}
}

// Wait 等待收尾完成
func (m *Manager) Wait() {
	<-m.done
}

var _ ports.StorageSink = (*Manager)(nil)
