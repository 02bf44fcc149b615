package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig OKX API 配置（私密字段由 .env 覆盖，不建议写进 YAML）
type APIConfig struct {
	Key        string `yaml:"key" json:"key"`
	SecretKey  string `yaml:"secret_key" json:"secret_key"`
	Passphrase string `yaml:"passphrase" json:"passphrase"`
	BaseURL    string `yaml:"base_url" json:"base_url"`
}

// WSConfig WebSocket 配置
type WSConfig struct {
	PublicURL  string `yaml:"public_url" json:"public_url"`
	PrivateURL string `yaml:"private_url" json:"private_url"`
	// ReconnectDelaySecs 重连等待秒数
	ReconnectDelaySecs int `yaml:"reconnect_delay_secs" json:"reconnect_delay_secs"`
	// ReadTimeoutSecs 读超时（超时后发送 ping 保活）
	ReadTimeoutSecs int `yaml:"read_timeout_secs" json:"read_timeout_secs"`
	// LoginTimeoutSecs 登录确认等待秒数
	LoginTimeoutSecs int `yaml:"login_timeout_secs" json:"login_timeout_secs"`
	// BookChannel 深度频道（books / books5 / books-l2-tbt）
	BookChannel string `yaml:"book_channel" json:"book_channel"`
	// TradeChannel 逐笔成交频道
	TradeChannel string `yaml:"trade_channel" json:"trade_channel"`
}

// TradingConfig 交易配置
type TradingConfig struct {
	// InstID 交易标的，例如 BTC-USDT-SWAP
	InstID string `yaml:"inst_id" json:"inst_id"`
	// Mode 交易模式 paper/live
	Mode string `yaml:"mode" json:"mode"`
	// TickSize 最小价格变动单位
	TickSize string `yaml:"tick_size" json:"tick_size"`
	// MaxPositionSize 最大名义仓位（USDT）
	MaxPositionSize float64 `yaml:"max_position_size" json:"max_position_size"`
	// MaxDailyLoss 最大日亏损比例（0.05 = 5%）
	MaxDailyLoss float64 `yaml:"max_daily_loss" json:"max_daily_loss"`
	// LeverageLimit 杠杆上限
	LeverageLimit float64 `yaml:"leverage_limit" json:"leverage_limit"`
}

// FrontRunConfig 抢跑策略配置
type FrontRunConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// LargeTradeThreshold 大单阈值（张/币）
	LargeTradeThreshold float64 `yaml:"large_trade_threshold" json:"large_trade_threshold"`
	// DepthDropRatio 深度断崖阈值（0.5 = 下降 50%）
	DepthDropRatio float64 `yaml:"depth_drop_ratio" json:"depth_drop_ratio"`
	// OrderSize 下单数量
	OrderSize float64 `yaml:"order_size" json:"order_size"`
}

// WallRideConfig 挂墙策略配置
type WallRideConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// WallDepthThreshold 墙的深度阈值
	WallDepthThreshold float64 `yaml:"wall_depth_threshold" json:"wall_depth_threshold"`
	// PersistenceSecs 墙需要持续存在的秒数，超过才视为"真墙"
	PersistenceSecs int `yaml:"persistence_secs" json:"persistence_secs"`
	// AbsenceGraceSecs 墙消失多少秒后从观察表移除
	AbsenceGraceSecs int `yaml:"absence_grace_secs" json:"absence_grace_secs"`
	// OrderSize 下单数量
	OrderSize float64 `yaml:"order_size" json:"order_size"`
	// ScanLevels 检查档位数
	ScanLevels int `yaml:"scan_levels" json:"scan_levels"`
}

// SpreadCapConfig 点差捕获策略配置
type SpreadCapConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MinSpreadBps 最小点差（50 = 0.5%）
	MinSpreadBps float64 `yaml:"min_spread_bps" json:"min_spread_bps"`
	// MaxSpreadBps 最大点差（超过视为行情异常，不做市）
	MaxSpreadBps float64 `yaml:"max_spread_bps" json:"max_spread_bps"`
	// OrderSize 双边挂单数量
	OrderSize float64 `yaml:"order_size" json:"order_size"`
}

// StrategiesConfig 策略配置集合
type StrategiesConfig struct {
	FrontRun  FrontRunConfig  `yaml:"front_run" json:"front_run"`
	WallRide  WallRideConfig  `yaml:"wall_ride" json:"wall_ride"`
	SpreadCap SpreadCapConfig `yaml:"spread_cap" json:"spread_cap"`
}

// RiskConfig 熔断/风控配置
type RiskConfig struct {
	// MaxLatencyMs 平均网络延迟上限（毫秒）
	MaxLatencyMs float64 `yaml:"max_latency_ms" json:"max_latency_ms"`
	// MonitorIntervalSecs 熔断监控周期
	MonitorIntervalSecs int `yaml:"monitor_interval_secs" json:"monitor_interval_secs"`
	// LatencyWindow 延迟采样窗口大小
	LatencyWindow int `yaml:"latency_window" json:"latency_window"`
}

// StorageConfig 三层存储配置
type StorageConfig struct {
	// WarmPath badger 数据目录（温存储）
	WarmPath string `yaml:"warm_path" json:"warm_path"`
	// ColdPath sqlite 数据库文件（冷存储）
	ColdPath string `yaml:"cold_path" json:"cold_path"`
	// MaxTrades 热存储成交环形缓冲大小
	MaxTrades int `yaml:"max_trades" json:"max_trades"`
	// ColdSyncIntervalSecs 冷存储同步周期
	ColdSyncIntervalSecs int `yaml:"cold_sync_interval_secs" json:"cold_sync_interval_secs"`
}

// ControlPlaneConfig 控制面配置（状态查询 + 手动恢复熔断）
type ControlPlaneConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Config 全量配置。所有可调参数都在这里枚举，启动时 Validate() 校验。
type Config struct {
	API          APIConfig          `yaml:"api" json:"api"`
	WS           WSConfig           `yaml:"ws" json:"ws"`
	Trading      TradingConfig      `yaml:"trading" json:"trading"`
	Strategies   StrategiesConfig   `yaml:"strategies" json:"strategies"`
	Risk         RiskConfig         `yaml:"risk" json:"risk"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane" json:"control_plane"`
	Log          LogConfig          `yaml:"log" json:"log"`
}

// Default 返回带默认值的配置
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "https://www.okx.com",
		},
		WS: WSConfig{
			PublicURL:          "wss://ws.okx.com:8443/ws/v5/public",
			PrivateURL:         "wss://ws.okx.com:8443/ws/v5/private",
			ReconnectDelaySecs: 5,
			ReadTimeoutSecs:    30,
			LoginTimeoutSecs:   10,
			BookChannel:        "books-l2-tbt",
			TradeChannel:       "trades",
		},
		Trading: TradingConfig{
			InstID:          "BTC-USDT-SWAP",
			Mode:            "paper",
			TickSize:        "0.1",
			MaxPositionSize: 1000,
			MaxDailyLoss:    0.05,
			LeverageLimit:   20,
		},
		Strategies: StrategiesConfig{
			FrontRun: FrontRunConfig{
				Enabled:             true,
				LargeTradeThreshold: 10,
				DepthDropRatio:      0.5,
				OrderSize:           0.01,
			},
			WallRide: WallRideConfig{
				Enabled:            true,
				WallDepthThreshold: 100,
				PersistenceSecs:    5,
				AbsenceGraceSecs:   2,
				OrderSize:          0.01,
				ScanLevels:         20,
			},
			SpreadCap: SpreadCapConfig{
				Enabled:      true,
				MinSpreadBps: 50,
				MaxSpreadBps: 200,
				OrderSize:    0.01,
			},
		},
		Risk: RiskConfig{
			MaxLatencyMs:        100,
			MonitorIntervalSecs: 1,
			LatencyWindow:       100,
		},
		Storage: StorageConfig{
			WarmPath:             "data/warm",
			ColdPath:             "data/cold/okx_auto.db",
			MaxTrades:            1000,
			ColdSyncIntervalSecs: 60,
		},
		ControlPlane: ControlPlaneConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8787",
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/okx_auto.log",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
		},
	}
}

// Load 从 YAML 文件加载配置（文件不存在时返回默认配置）
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv 用环境变量覆盖私密/高优先级配置（.env 由入口加载）
func (c *Config) applyEnv() {
	if v := os.Getenv("OKX_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("OKX_SECRET_KEY"); v != "" {
		c.API.SecretKey = v
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		c.API.Passphrase = v
	}
	if v := os.Getenv("OKX_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		c.Trading.Mode = v
	}
	if v := os.Getenv("INST_ID"); v != "" {
		c.Trading.InstID = v
	}
	if v := os.Getenv("MAX_DAILY_LOSS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Trading.MaxDailyLoss = f
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate 校验配置是否有效
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Trading.InstID) == "" {
		return fmt.Errorf("trading.inst_id 未配置")
	}
	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("trading.mode 必须是 paper 或 live，当前: %s", c.Trading.Mode)
	}
	if c.Trading.MaxDailyLoss <= 0 || c.Trading.MaxDailyLoss >= 1 {
		return fmt.Errorf("trading.max_daily_loss 必须在 (0,1) 区间，当前: %v", c.Trading.MaxDailyLoss)
	}
	if c.Trading.LeverageLimit <= 0 {
		return fmt.Errorf("trading.leverage_limit 必须为正，当前: %v", c.Trading.LeverageLimit)
	}
	if c.Trading.MaxPositionSize <= 0 {
		return fmt.Errorf("trading.max_position_size 必须为正，当前: %v", c.Trading.MaxPositionSize)
	}
	if c.Risk.MaxLatencyMs <= 0 {
		return fmt.Errorf("risk.max_latency_ms 必须为正，当前: %v", c.Risk.MaxLatencyMs)
	}
	if c.Strategies.SpreadCap.MinSpreadBps > c.Strategies.SpreadCap.MaxSpreadBps {
		return fmt.Errorf("strategies.spread_cap: min_spread_bps 不能大于 max_spread_bps")
	}
	// 私有频道/下单需要 API 凭证；纸面模式下允许为空（只读公共频道）
	if c.Trading.Mode == "live" {
		if c.API.Key == "" || c.API.SecretKey == "" || c.API.Passphrase == "" {
			return fmt.Errorf("实盘模式必须配置 OKX_API_KEY / OKX_SECRET_KEY / OKX_PASSPHRASE")
		}
	}
	return nil
}

// ReconnectDelay 重连等待时长
func (c *WSConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySecs) * time.Second
}

// ReadTimeout 读超时时长
func (c *WSConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSecs) * time.Second
}

// LoginTimeout 登录确认超时时长
func (c *WSConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSecs) * time.Second
}

// MonitorInterval 熔断监控周期
func (c *RiskConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSecs) * time.Second
}

// ColdSyncInterval 冷存储同步周期
func (c *StorageConfig) ColdSyncInterval() time.Duration {
	return time.Duration(c.ColdSyncIntervalSecs) * time.Second
}
