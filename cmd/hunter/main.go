// hunter 是微观结构猎手的进程入口：
// 连接行情流，维护订单簿副本，驱动策略与风控，经执行通道下单。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/changrenyuan/okx-auto/internal/controlplane"
	"github.com/changrenyuan/okx-auto/internal/domain"
	"github.com/changrenyuan/okx-auto/internal/execution"
	"github.com/changrenyuan/okx-auto/internal/microstructure"
	"github.com/changrenyuan/okx-auto/internal/orderbook"
	"github.com/changrenyuan/okx-auto/internal/ports"
	"github.com/changrenyuan/okx-auto/internal/risk"
	"github.com/changrenyuan/okx-auto/internal/storage"
	"github.com/changrenyuan/okx-auto/internal/strategies"
	"github.com/changrenyuan/okx-auto/internal/strategies/frontrun"
	"github.com/changrenyuan/okx-auto/internal/strategies/spreadcap"
	"github.com/changrenyuan/okx-auto/internal/strategies/wallride"
	"github.com/changrenyuan/okx-auto/internal/stream"
	"github.com/changrenyuan/okx-auto/pkg/config"
	"github.com/changrenyuan/okx-auto/pkg/logger"
	"github.com/changrenyuan/okx-auto/pkg/shutdown"
)

type app struct {
	cfg *config.Config
	log *logrus.Entry

	book    *orderbook.Book
	tape    *domain.TradeTape
	feat    *microstructure.Extractor
	exec    *execution.Client
	breaker *risk.CircuitBreaker
	riskMgr *risk.Manager
	engine  *strategies.Engine
	reg     *strategies.Registry
	sink    *storage.Manager
	warm    *storage.WarmStore
	cold    *storage.ColdStore
	public  *stream.Client
	private *stream.Client

	balMu     sync.RWMutex
	balance   *ports.Balance
	positions []*ports.Position
}

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// .env 优先加载，里面放 API 凭证
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置无效: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logger.WithField("component", "main").WithError(err).Error("进程退出")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	a := &app{
		cfg: cfg,
		log: logger.WithField("component", "main"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.buildCore()
	if err := a.buildStorage(); err != nil {
		return err
	}
	a.buildStrategies()

	go a.sink.Start(ctx)
	go a.breaker.Start(ctx)
	go a.monitorLoop(ctx)

	a.exec.StartQueueWorker(ctx)

	if err := a.connectStreams(ctx); err != nil {
		return err
	}

	closer := shutdown.NewManager()
	closer.OnShutdown(func(context.Context) {
		a.public.Stop()
		if a.private != nil {
			a.private.Stop()
		}
	})

	if cfg.ControlPlane.Enabled {
		cp := controlplane.NewServer(cfg.ControlPlane.Addr, controlplane.Deps{
			Book:     a.book,
			Breaker:  a.breaker,
			Risk:     a.riskMgr,
			Registry: a.reg,
			Hot:      a.sink.Hot(),
		})
		cp.Start()
		closer.OnShutdown(func(ctx context.Context) {
			_ = cp.Shutdown(ctx)
		})
	}

	a.log.WithFields(logrus.Fields{
		"inst": cfg.Trading.InstID,
		"mode": cfg.Trading.Mode,
	}).Info("猎手启动完成")

	// 等待停机信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	a.log.Info("收到停机信号，开始收尾")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	closer.Shutdown(shutdownCtx)

	cancel()
	a.sink.Wait()
	a.closeStores()
	return nil
}

// closeStores 存储收尾完成后释放温层/冷层句柄
func (a *app) closeStores() {
	if a.warm != nil {
		if err := a.warm.Close(); err != nil {
			a.log.WithError(err).Warn("温层关闭失败")
		}
	}
	if a.cold != nil {
		if err := a.cold.Close(); err != nil {
			a.log.WithError(err).Warn("冷层关闭失败")
		}
	}
}

func (a *app) buildCore() {
	cfg := a.cfg
	a.book = orderbook.New(cfg.Trading.InstID)
	a.tape = domain.NewTradeTape(cfg.Storage.MaxTrades)
	a.feat = microstructure.NewExtractor(a.book, a.tape)

	a.exec = execution.NewClient(execution.Config{
		BaseURL:    cfg.API.BaseURL,
		APIKey:     cfg.API.Key,
		SecretKey:  cfg.API.SecretKey,
		Passphrase: cfg.API.Passphrase,
		Simulated:  cfg.Trading.Mode == "paper",
	})

	a.breaker = risk.NewCircuitBreaker(risk.BreakerConfig{
		MaxLatencyMs:  cfg.Risk.MaxLatencyMs,
		MaxDailyLoss:  cfg.Trading.MaxDailyLoss,
		Interval:      cfg.Risk.MonitorInterval(),
		LatencyWindow: cfg.Risk.LatencyWindow,
		Instruments:   []string{cfg.Trading.InstID},
	}, a.exec)
	a.exec.SetLatencyCallback(a.breaker.RecordLatency)

	a.riskMgr = risk.NewManager(risk.ManagerConfig{
		MaxPositionSize: cfg.Trading.MaxPositionSize,
		MaxDailyLoss:    cfg.Trading.MaxDailyLoss,
		LeverageLimit:   cfg.Trading.LeverageLimit,
	}, a.breaker)
}

func (a *app) buildStorage() error {
	cfg := a.cfg
	var warm *storage.WarmStore
	var cold *storage.ColdStore
	var err error
	if cfg.Storage.WarmPath != "" {
		if warm, err = storage.OpenWarm(cfg.Storage.WarmPath); err != nil {
			return err
		}
		// 同一天内重启，恢复当日盈亏基准
		if st, err := warm.GetAccountState(); err == nil && st != nil {
			if sameDay(st.UpdatedAt, time.Now()) {
				a.breaker.SeedDailyStart(st.DailyStart)
			}
		}
	}
	a.warm = warm
	if cfg.Storage.ColdPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.ColdPath), 0o755); err != nil {
			return err
		}
		if cold, err = storage.OpenCold(cfg.Storage.ColdPath); err != nil {
			return err
		}
	}
	a.cold = cold
	a.sink = storage.NewManager(storage.ManagerConfig{
		ColdSyncInterval: cfg.Storage.ColdSyncInterval(),
	}, storage.NewHotStore(cfg.Storage.MaxTrades), warm, cold)
	return nil
}

func (a *app) buildStrategies() {
	cfg := a.cfg
	market := &strategies.Market{
		InstID:   cfg.Trading.InstID,
		Book:     a.book,
		Features: a.feat,
		Tape:     a.tape,
	}
	tick, err := decimal.NewFromString(cfg.Trading.TickSize)
	if err != nil {
		tick = decimal.NewFromFloat(0.1)
	}

	a.reg = strategies.NewRegistry()
	sc := cfg.Strategies
	mustRegister := func(s strategies.Strategy) {
		if err := a.reg.Register(s); err != nil {
			a.log.WithError(err).Fatal("策略注册失败")
		}
	}
	mustRegister(frontrun.New(frontrun.Config{
		Enabled:             sc.FrontRun.Enabled,
		LargeTradeThreshold: decimal.NewFromFloat(sc.FrontRun.LargeTradeThreshold),
		DepthDropRatio:      sc.FrontRun.DepthDropRatio,
		OrderSize:           decimal.NewFromFloat(sc.FrontRun.OrderSize),
	}, market))
	mustRegister(wallride.New(wallride.Config{
		Enabled:            sc.WallRide.Enabled,
		WallDepthThreshold: decimal.NewFromFloat(sc.WallRide.WallDepthThreshold),
		Persistence:        time.Duration(sc.WallRide.PersistenceSecs) * time.Second,
		AbsenceGrace:       time.Duration(sc.WallRide.AbsenceGraceSecs) * time.Second,
		OrderSize:          decimal.NewFromFloat(sc.WallRide.OrderSize),
		TickSize:           tick,
		ScanLevels:         sc.WallRide.ScanLevels,
	}, market))
	mustRegister(spreadcap.New(spreadcap.Config{
		Enabled:      sc.SpreadCap.Enabled,
		MinSpreadBps: sc.SpreadCap.MinSpreadBps,
		MaxSpreadBps: sc.SpreadCap.MaxSpreadBps,
		OrderSize:    decimal.NewFromFloat(sc.SpreadCap.OrderSize),
	}, market))

	a.engine = strategies.NewEngine(a.reg, a.breaker)
}

func (a *app) connectStreams(ctx context.Context) error {
	cfg := a.cfg
	a.public = stream.NewClient(stream.Config{
		URL:            cfg.WS.PublicURL,
		ReconnectDelay: cfg.WS.ReconnectDelay(),
		ReadTimeout:    cfg.WS.ReadTimeout(),
	})
	a.public.On(stream.RouteOrderBook, a.onBookMessage)
	a.public.On(stream.RouteTrades, a.onTradeMessage)

	if err := a.public.Connect(ctx); err != nil {
		return err
	}
	if err := a.public.Subscribe(
		stream.Arg{Channel: cfg.WS.BookChannel, InstID: cfg.Trading.InstID},
		stream.Arg{Channel: cfg.WS.TradeChannel, InstID: cfg.Trading.InstID},
	); err != nil {
		return err
	}
	go a.public.Listen(ctx)

	// 有凭证时再开私有流，跟踪成交回报
	if cfg.API.Key != "" {
		a.private = stream.NewClient(stream.Config{
			URL:            cfg.WS.PrivateURL,
			APIKey:         cfg.API.Key,
			SecretKey:      cfg.API.SecretKey,
			Passphrase:     cfg.API.Passphrase,
			Private:        true,
			ReconnectDelay: cfg.WS.ReconnectDelay(),
			ReadTimeout:    cfg.WS.ReadTimeout(),
			LoginTimeout:   cfg.WS.LoginTimeout(),
		})
		a.private.On(stream.RouteOrders, a.onOrderMessage)
		if err := a.private.Connect(ctx); err != nil {
			// 私有流失败不致命，降级为只读
			a.log.WithError(err).Warn("私有流连接失败，跳过成交回报跟踪")
			a.private = nil
			return nil
		}
		if err := a.private.Subscribe(
			stream.Arg{Channel: "orders", InstType: "SWAP"},
		); err != nil {
			return err
		}
		go a.private.Listen(ctx)
	}
	return nil
}

// onBookMessage 深度消息：同步更新副本与特征，再驱动策略
func (a *app) onBookMessage(msg *stream.Message) {
	books, err := msg.BookData()
	if err != nil {
		a.log.WithError(err).Debug("深度消息解析失败")
		return
	}
	for _, bd := range books {
		if msg.Action == "snapshot" {
			err = a.book.ApplySnapshot(bd.Bids, bd.Asks, bd.ChecksumUint32())
		} else {
			err = a.book.ApplyDelta(bd.Bids, bd.Asks, bd.ChecksumUint32())
		}
		if err != nil {
			// 校验失败只记录，等待重新快照恢复信任
			a.log.WithError(err).Warn("订单簿校验失败")
		}
	}
	a.feat.Update()
	a.pushBookTop()
	a.dispatchSignals(a.engine.OnOrderBook())
}

func (a *app) pushBookTop() {
	toLevels := func(levels []orderbook.Level) []ports.BookLevel {
		out := make([]ports.BookLevel, 0, len(levels))
		for _, lv := range levels {
			out = append(out, ports.BookLevel{Price: lv.Price, Size: lv.Size})
		}
		return out
	}
	a.sink.PushBookTop(a.book.InstID(), toLevels(a.book.Bids(5)), toLevels(a.book.Asks(5)), time.Now())
}

// onTradeMessage 逐笔成交：入带、下沉、驱动策略
func (a *app) onTradeMessage(msg *stream.Message) {
	trades, err := msg.Trades()
	if err != nil {
		a.log.WithError(err).Debug("成交消息解析失败")
		return
	}
	for i := range trades {
		tr := trades[i]
		a.tape.Append(tr)
		a.sink.PushTrade(&tr)
		a.dispatchSignals(a.engine.OnTrade(&tr))
	}
}

// onOrderMessage 私有成交回报：把已实现盈亏回填风控统计
func (a *app) onOrderMessage(msg *stream.Message) {
	var fills []struct {
		State string `json:"state"`
		Pnl   string `json:"pnl"`
	}
	if err := json.Unmarshal(msg.Data, &fills); err != nil {
		return
	}
	bal := a.lastBalance()
	if bal == nil {
		return
	}
	total, _ := bal.Total.Float64()
	if total <= 0 {
		return
	}
	for _, f := range fills {
		if f.State != "filled" {
			continue
		}
		pnl, err := decimal.NewFromString(f.Pnl)
		if err != nil {
			continue
		}
		v, _ := pnl.Float64()
		a.riskMgr.PostTradeCheck(v / total)
	}
}

// dispatchSignals 信号依次过风控闸门，放行的转执行
func (a *app) dispatchSignals(signals []*domain.Signal) {
	if len(signals) == 0 {
		return
	}
	bal := a.lastBalance()
	if bal == nil {
		a.log.Debug("余额未就绪，丢弃信号")
		return
	}
	positions := a.lastPositions()

	for _, sig := range signals {
		decision := a.riskMgr.PreTradeCheck(sig, bal, positions)
		if !decision.Approved {
			a.log.WithFields(logrus.Fields{
				"strategy": sig.Strategy,
				"reason":   decision.Reason,
			}).Info("信号被风控拒绝")
			continue
		}
		a.execute(sig)
	}
}

// execute 放行信号转订单。做市信号拆成双边 post-only 挂单走异步队列。
func (a *app) execute(sig *domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch sig.Action {
	case domain.ActionMarketMake:
		a.exec.Enqueue(&ports.OrderRequest{
			InstID: sig.InstID, Side: domain.SideBuy,
			Type: ports.OrderPostOnly, Size: sig.Size, Price: sig.BidPrice,
		})
		a.exec.Enqueue(&ports.OrderRequest{
			InstID: sig.InstID, Side: domain.SideSell,
			Type: ports.OrderPostOnly, Size: sig.Size, Price: sig.AskPrice,
		})
		a.engine.MarkExecuted(sig)
	case domain.ActionBuy, domain.ActionSell:
		_, err := a.exec.PlaceOrder(ctx, &ports.OrderRequest{
			InstID: sig.InstID,
			Side:   domain.Side(sig.Action),
			Type:   ports.OrderLimit,
			Size:   sig.Size,
			Price:  sig.Price,
		})
		if err != nil {
			// 执行失败视为信号未成交，不影响核心循环
			a.log.WithError(err).WithField("strategy", sig.Strategy).Warn("下单失败")
			return
		}
		a.engine.MarkExecuted(sig)
	}
}

// monitorLoop 周期刷新余额/持仓，并给熔断器喂余额快照
func (a *app) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	a.refreshAccount(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshAccount(ctx)
		}
	}
}

func (a *app) refreshAccount(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	bal, err := a.exec.GetBalance(reqCtx)
	if err != nil {
		a.log.WithError(err).Debug("余额刷新失败")
		return
	}
	positions, err := a.exec.GetPositions(reqCtx)
	if err != nil {
		a.log.WithError(err).Debug("持仓刷新失败")
		positions = nil
	}

	a.balMu.Lock()
	a.balance = bal
	a.positions = positions
	a.balMu.Unlock()

	total, _ := bal.Total.Float64()
	if total > 0 {
		a.breaker.RecordBalance(total)
	}

	if a.warm != nil {
		avail, _ := bal.Available.Float64()
		st := &storage.AccountState{
			TotalBalance:     total,
			AvailableBalance: avail,
			DailyStart:       a.breaker.Status().DailyStart,
			TradingEnabled:   a.breaker.IsSafe() && !a.riskMgr.IsStopped(),
			UpdatedAt:        time.Now(),
		}
		if err := a.warm.PutAccountState(st); err != nil {
			a.log.WithError(err).Debug("账户快照落盘失败")
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (a *app) lastBalance() *ports.Balance {
	a.balMu.RLock()
	defer a.balMu.RUnlock()
	return a.balance
}

func (a *app) lastPositions() []*ports.Position {
	a.balMu.RLock()
	defer a.balMu.RUnlock()
	return a.positions
}
