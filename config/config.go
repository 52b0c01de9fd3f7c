package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExchangeConfig 单个交易所配置
type ExchangeConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	APIKey       string  `yaml:"api_key" json:"-"`
	APISecret    string  `yaml:"api_secret" json:"-"`
	RestBaseURL  string  `yaml:"rest_base_url" json:"rest_base_url"`
	WsURL        string  `yaml:"ws_url" json:"ws_url"`
	TakerFeeRate float64 `yaml:"taker_fee_rate" json:"taker_fee_rate"` // 吃单费率（小数，如 0.0003）
	MakerFeeRate float64 `yaml:"maker_fee_rate" json:"maker_fee_rate"` // 挂单费率

	// 限流配置（按作用域区分行情与下单）
	MarketDataLimit RateLimitConfig `yaml:"market_data_limit" json:"market_data_limit"`
	OrderLimit      RateLimitConfig `yaml:"order_limit" json:"order_limit"`
}

// RateLimitConfig 令牌桶限流配置
type RateLimitConfig struct {
	Rate     float64 `yaml:"rate" json:"rate"`         // 每秒补充令牌数
	Capacity int     `yaml:"capacity" json:"capacity"` // 桶容量
}

// SymbolConfig 交易对配置（z 阈值为 0 时使用全局阈值）
type SymbolConfig struct {
	Symbol       string  `yaml:"symbol" json:"symbol"`
	ZEntry       float64 `yaml:"z_entry" json:"z_entry"`
	ZExit        float64 `yaml:"z_exit" json:"z_exit"`
	MaxPosition  float64 `yaml:"max_position" json:"max_position"`
	BaseOrderQty float64 `yaml:"base_order_qty" json:"base_order_qty"`
}

// TradingConfig 策略与交易参数
type TradingConfig struct {
	Symbols []SymbolConfig `yaml:"symbols"`
	Mode    string         `yaml:"mode"` // normal_arb / zero_wear

	LoopIntervalMs     int `yaml:"loop_interval_ms"`     // 主循环 tick 间隔（毫秒）
	MaxConcurrentScans int `yaml:"max_concurrent_scans"` // 每个 tick 并发处理的交易对上限
	PositionSyncMs     int `yaml:"position_sync_ms"`     // 持仓同步间隔
	RestConsistencyMs  int `yaml:"rest_consistency_ms"`  // REST 与 WS 一致性校验间隔

	// 价差统计参数
	MAWindow   int `yaml:"ma_window"`   // 均值滚动窗口长度
	StdWindow  int `yaml:"std_window"`  // 标准差滚动窗口长度
	MinSamples int `yaml:"min_samples"` // 预热所需最小样本数

	// 开平仓阈值（zero_wear 模式使用更温和的阈值）
	ZEntry         float64 `yaml:"z_entry"`
	ZExit          float64 `yaml:"z_exit"`
	ZeroWearZEntry float64 `yaml:"zero_wear_z_entry"`
	ZeroWearZExit  float64 `yaml:"zero_wear_z_exit"`
	MinEdgeBps     float64 `yaml:"min_edge_bps"` // 净价差下限（基点）

	// 下单规模
	BaseOrderQty float64 `yaml:"base_order_qty"` // 单笔基础数量
	MaxBatchQty  float64 `yaml:"max_batch_qty"`  // 单 tick 下单数量上限
	MaxPosition  float64 `yaml:"max_position"`   // 单交易对最大持仓

	LeverageFloor float64 `yaml:"leverage_floor"` // 有效杠杆下限，低于则跳过该交易对

	LiveOrderEnabled   bool `yaml:"live_order_enabled"`   // 实盘下单开关（仅停止状态可修改）
	SimulateMarketData bool `yaml:"simulate_market_data"` // 模拟行情开关（开启时禁止实盘下单）
}

// RiskConfig 风控参数
type RiskConfig struct {
	StaleMs                 int     `yaml:"stale_ms"`                  // 报价过期阈值（毫秒）
	ConsistencyToleranceBps float64 `yaml:"consistency_tolerance_bps"` // REST/WS 中间价容差（基点）
	ConsistencyMaxFailures  int     `yaml:"consistency_max_failures"`  // 连续超差次数上限
	WsDegradedTimeoutSec    int     `yaml:"ws_degraded_timeout_sec"`   // WS 空闲一级阈值（降级：禁止新开仓）
	WsCriticalTimeoutSec    int     `yaml:"ws_critical_timeout_sec"`   // WS 空闲二级阈值（熔断：只允许平仓）
	HealthFailThreshold     int     `yaml:"health_fail_threshold"`     // 健康检查连续失败阈值
	HealthCacheMs           int     `yaml:"health_cache_ms"`           // 健康检查结果缓存时间
	NetPosGuardMultiplier   float64 `yaml:"net_pos_guard_multiplier"`  // 软阈值：净敞口超过 base_order_qty 的倍数触发再平衡
	HardNetLimitMultiplier  float64 `yaml:"hard_net_limit_multiplier"` // 硬阈值：触发全部平仓并暂停开仓
}

// StorageConfig 持久化配置
type StorageConfig struct {
	Type             string `yaml:"type"` // sqlite / postgres / mysql
	DSN              string `yaml:"dsn"`
	BufferSize       int    `yaml:"buffer_size"`        // 异步写入缓冲大小
	FlushIntervalSec int    `yaml:"flush_interval_sec"` // 批量落盘间隔
	HistoryRetention int    `yaml:"history_retention"`  // 每交易对保留的价差样本条数
}

// WebConfig 管理接口配置
type WebConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Listen         string `yaml:"listen"`          // 如 ":8080"
	PasswordBcrypt string `yaml:"password_bcrypt"` // API 口令的 bcrypt 哈希，空则不鉴权
}

// WebhookConfig webhook 通知渠道
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// TelegramConfig Telegram 通知渠道
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// NotifyConfig 告警通知配置
type NotifyConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// RedisConfig Redis 分布式锁（多实例部署时防止重复平仓/再平衡）
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	LockPrefix string `yaml:"lock_prefix"`
}

// SystemConfig 系统级配置
type SystemConfig struct {
	LogLevel            string  `yaml:"log_level"`
	Timezone            string  `yaml:"timezone"` // 时区，如 "Asia/Shanghai"
	WatchdogIntervalSec int     `yaml:"watchdog_interval_sec"`
	CPUAlertPercent     float64 `yaml:"cpu_alert_percent"`
	MemAlertPercent     float64 `yaml:"mem_alert_percent"`
}

// Config 跨所价差套利系统配置
type Config struct {
	// 多交易所配置（key: paradex / grvt）
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`

	Trading TradingConfig `yaml:"trading"`
	Risk    RiskConfig    `yaml:"risk"`
	Storage StorageConfig `yaml:"storage"`
	Web     WebConfig     `yaml:"web"`
	Notify  NotifyConfig  `yaml:"notify"`
	Redis   RedisConfig   `yaml:"redis"`
	System  SystemConfig  `yaml:"system"`
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults 填充未配置项的默认值
func (c *Config) applyDefaults() {
	t := &c.Trading
	if t.Mode == "" {
		t.Mode = "normal_arb"
	}
	if t.LoopIntervalMs <= 0 {
		t.LoopIntervalMs = 100
	}
	if t.MaxConcurrentScans <= 0 {
		t.MaxConcurrentScans = 6
	}
	if t.PositionSyncMs <= 0 {
		t.PositionSyncMs = 1500
	}
	if t.RestConsistencyMs <= 0 {
		t.RestConsistencyMs = 1000
	}
	if t.MAWindow <= 0 {
		t.MAWindow = 120
	}
	if t.StdWindow <= 0 {
		t.StdWindow = 120
	}
	if t.MinSamples <= 0 {
		t.MinSamples = 60
	}
	if t.ZEntry == 0 {
		t.ZEntry = 1.8
	}
	if t.ZExit == 0 {
		t.ZExit = 0.6
	}
	if t.ZeroWearZEntry == 0 {
		t.ZeroWearZEntry = 1.2
	}
	if t.ZeroWearZExit == 0 {
		t.ZeroWearZExit = 0.3
	}
	if t.MinEdgeBps == 0 {
		t.MinEdgeBps = 1.0
	}
	if t.BaseOrderQty == 0 {
		t.BaseOrderQty = 0.001
	}
	if t.MaxBatchQty == 0 {
		t.MaxBatchQty = 0.005
	}
	if t.MaxPosition == 0 {
		t.MaxPosition = 0.1
	}
	if t.LeverageFloor == 0 {
		t.LeverageFloor = 50
	}

	r := &c.Risk
	if r.StaleMs <= 0 {
		r.StaleMs = 1200
	}
	if r.ConsistencyToleranceBps == 0 {
		r.ConsistencyToleranceBps = 0.08
	}
	if r.ConsistencyMaxFailures <= 0 {
		r.ConsistencyMaxFailures = 3
	}
	if r.WsDegradedTimeoutSec <= 0 {
		r.WsDegradedTimeoutSec = 8
	}
	if r.WsCriticalTimeoutSec <= 0 {
		r.WsCriticalTimeoutSec = 20
	}
	if r.HealthFailThreshold <= 0 {
		r.HealthFailThreshold = 3
	}
	if r.HealthCacheMs <= 0 {
		r.HealthCacheMs = 3000
	}
	if r.NetPosGuardMultiplier == 0 {
		r.NetPosGuardMultiplier = 1.5
	}
	if r.HardNetLimitMultiplier == 0 {
		r.HardNetLimitMultiplier = 3.0
	}

	s := &c.Storage
	if s.Type == "" {
		s.Type = "sqlite"
	}
	if s.DSN == "" {
		s.DSN = "data/arbmesh.db"
	}
	if s.BufferSize <= 0 {
		s.BufferSize = 1000
	}
	if s.FlushIntervalSec <= 0 {
		s.FlushIntervalSec = 5
	}
	if s.HistoryRetention <= 0 {
		s.HistoryRetention = 5000
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Shanghai"
	}
	if c.System.WatchdogIntervalSec <= 0 {
		c.System.WatchdogIntervalSec = 30
	}
	if c.System.CPUAlertPercent == 0 {
		c.System.CPUAlertPercent = 90
	}
	if c.System.MemAlertPercent == 0 {
		c.System.MemAlertPercent = 90
	}

	if c.Redis.LockPrefix == "" {
		c.Redis.LockPrefix = "arbmesh:lock:"
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	for _, name := range []string{"paradex", "grvt"} {
		if _, ok := c.Exchanges[name]; !ok {
			return fmt.Errorf("缺少交易所配置: %s", name)
		}
	}

	t := &c.Trading
	if len(t.Symbols) == 0 {
		return fmt.Errorf("未配置任何交易对")
	}
	seen := make(map[string]bool)
	for _, s := range t.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("交易对名称不能为空")
		}
		if seen[s.Symbol] {
			return fmt.Errorf("交易对重复配置: %s", s.Symbol)
		}
		seen[s.Symbol] = true
		if s.ZEntry != 0 && s.ZExit != 0 && s.ZExit >= s.ZEntry {
			return fmt.Errorf("交易对 %s 的 z_exit 必须小于 z_entry", s.Symbol)
		}
	}

	if t.Mode != "normal_arb" && t.Mode != "zero_wear" {
		return fmt.Errorf("非法策略模式: %s", t.Mode)
	}
	if t.ZExit >= t.ZEntry {
		return fmt.Errorf("z_exit (%.2f) 必须小于 z_entry (%.2f)", t.ZExit, t.ZEntry)
	}
	if t.ZeroWearZExit >= t.ZeroWearZEntry {
		return fmt.Errorf("zero_wear_z_exit 必须小于 zero_wear_z_entry")
	}
	if t.MinSamples > t.StdWindow {
		return fmt.Errorf("min_samples (%d) 不能大于 std_window (%d)", t.MinSamples, t.StdWindow)
	}
	if t.BaseOrderQty <= 0 || t.MaxPosition <= 0 {
		return fmt.Errorf("下单数量与最大持仓必须大于 0")
	}
	if t.MaxBatchQty < t.BaseOrderQty {
		return fmt.Errorf("max_batch_qty 不能小于 base_order_qty")
	}
	if t.LeverageFloor <= 0 {
		return fmt.Errorf("leverage_floor 必须大于 0")
	}
	if t.LiveOrderEnabled && t.SimulateMarketData {
		return fmt.Errorf("模拟行情模式下禁止开启实盘下单")
	}

	r := &c.Risk
	if r.WsCriticalTimeoutSec <= r.WsDegradedTimeoutSec {
		return fmt.Errorf("ws_critical_timeout_sec 必须大于 ws_degraded_timeout_sec")
	}
	if r.HardNetLimitMultiplier <= r.NetPosGuardMultiplier {
		return fmt.Errorf("hard_net_limit_multiplier 必须大于 net_pos_guard_multiplier")
	}

	switch c.Storage.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的存储类型: %s", c.Storage.Type)
	}

	return nil
}

// SymbolFor 返回指定交易对的配置（不存在时返回 nil）
func (c *Config) SymbolFor(symbol string) *SymbolConfig {
	for i := range c.Trading.Symbols {
		if c.Trading.Symbols[i].Symbol == symbol {
			return &c.Trading.Symbols[i]
		}
	}
	return nil
}

// SaveConfig 将配置写回文件
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
