package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalYAML = `
exchanges:
  paradex:
    enabled: true
  grvt:
    enabled: true
trading:
  symbols:
    - symbol: BTC-USD-PERP
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := &Config{Exchanges: map[string]ExchangeConfig{
		"paradex": {}, "grvt": {},
	}}
	cfg.Trading.Symbols = []SymbolConfig{{Symbol: "BTC-USD-PERP"}}
	cfg.applyDefaults()
	return cfg
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	tr := cfg.Trading
	if tr.Mode != "normal_arb" {
		t.Fatalf("默认模式 = %s, 期望 normal_arb", tr.Mode)
	}
	if tr.LoopIntervalMs != 100 || tr.MaxConcurrentScans != 6 {
		t.Fatalf("循环默认值 = %d/%d, 期望 100/6", tr.LoopIntervalMs, tr.MaxConcurrentScans)
	}
	if tr.MAWindow != 120 || tr.StdWindow != 120 || tr.MinSamples != 60 {
		t.Fatalf("统计窗口默认值 = %d/%d/%d, 期望 120/120/60", tr.MAWindow, tr.StdWindow, tr.MinSamples)
	}
	if tr.ZEntry != 1.8 || tr.ZExit != 0.6 {
		t.Fatalf("z 阈值默认 = %v/%v, 期望 1.8/0.6", tr.ZEntry, tr.ZExit)
	}
	if tr.ZeroWearZEntry != 1.2 || tr.ZeroWearZExit != 0.3 {
		t.Fatalf("zero_wear 阈值默认 = %v/%v, 期望 1.2/0.3", tr.ZeroWearZEntry, tr.ZeroWearZExit)
	}
	if tr.MinEdgeBps != 1.0 || tr.LeverageFloor != 50 {
		t.Fatalf("价差下限/杠杆下限 = %v/%v, 期望 1.0/50", tr.MinEdgeBps, tr.LeverageFloor)
	}
	if tr.BaseOrderQty != 0.001 || tr.MaxBatchQty != 0.005 || tr.MaxPosition != 0.1 {
		t.Fatalf("下单规模默认 = %v/%v/%v", tr.BaseOrderQty, tr.MaxBatchQty, tr.MaxPosition)
	}
	if tr.LiveOrderEnabled || tr.SimulateMarketData {
		t.Fatalf("实盘与模拟开关默认应为关闭")
	}

	r := cfg.Risk
	if r.StaleMs != 1200 || r.ConsistencyToleranceBps != 0.08 || r.ConsistencyMaxFailures != 3 {
		t.Fatalf("一致性风控默认 = %d/%v/%d", r.StaleMs, r.ConsistencyToleranceBps, r.ConsistencyMaxFailures)
	}
	if r.WsDegradedTimeoutSec != 8 || r.WsCriticalTimeoutSec != 20 {
		t.Fatalf("WS 超时默认 = %d/%d, 期望 8/20", r.WsDegradedTimeoutSec, r.WsCriticalTimeoutSec)
	}
	if r.NetPosGuardMultiplier != 1.5 || r.HardNetLimitMultiplier != 3.0 {
		t.Fatalf("敞口倍数默认 = %v/%v, 期望 1.5/3.0", r.NetPosGuardMultiplier, r.HardNetLimitMultiplier)
	}

	if cfg.Storage.Type != "sqlite" || cfg.Storage.HistoryRetention != 5000 {
		t.Fatalf("存储默认 = %s/%d", cfg.Storage.Type, cfg.Storage.HistoryRetention)
	}
	if cfg.Redis.LockPrefix != "arbmesh:lock:" {
		t.Fatalf("锁前缀默认 = %s", cfg.Redis.LockPrefix)
	}
	if cfg.System.Timezone != "Asia/Shanghai" || cfg.System.LogLevel != "INFO" {
		t.Fatalf("系统默认 = %s/%s", cfg.System.Timezone, cfg.System.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
}

func TestValidateMissingExchange(t *testing.T) {
	cfg := validConfig()
	delete(cfg.Exchanges, "grvt")
	if err := cfg.Validate(); err == nil {
		t.Fatalf("缺少 grvt 配置应报错")
	}
}

func TestValidateNoSymbols(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.Symbols = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("空交易对列表应报错")
	}
}

func TestValidateDuplicateSymbol(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.Symbols = append(cfg.Trading.Symbols, SymbolConfig{Symbol: "BTC-USD-PERP"})
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复交易对应报错")
	}
}

func TestValidateZThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.ZEntry = 1.0
	cfg.Trading.ZExit = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("z_exit ≥ z_entry 应报错")
	}

	cfg = validConfig()
	cfg.Trading.Symbols[0].ZEntry = 1.0
	cfg.Trading.Symbols[0].ZExit = 1.0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("符号级 z_exit ≥ z_entry 应报错")
	}

	cfg = validConfig()
	cfg.Trading.ZeroWearZEntry = 0.3
	cfg.Trading.ZeroWearZExit = 0.3
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero_wear 阈值非法应报错")
	}
}

func TestValidateMinSamplesVsStdWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.MinSamples = 200
	cfg.Trading.StdWindow = 120
	if err := cfg.Validate(); err == nil {
		t.Fatalf("min_samples > std_window 应报错")
	}
}

func TestValidateLiveAndSimulateMutuallyExclusive(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.LiveOrderEnabled = true
	cfg.Trading.SimulateMarketData = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("实盘与模拟行情互斥，应报错")
	}
}

func TestValidateBatchVsBase(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.BaseOrderQty = 0.01
	cfg.Trading.MaxBatchQty = 0.005
	if err := cfg.Validate(); err == nil {
		t.Fatalf("max_batch_qty < base_order_qty 应报错")
	}
}

func TestValidateRiskMultipliers(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.NetPosGuardMultiplier = 3.0
	cfg.Risk.HardNetLimitMultiplier = 3.0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("硬阈值 ≤ 软阈值应报错")
	}

	cfg = validConfig()
	cfg.Risk.WsDegradedTimeoutSec = 20
	cfg.Risk.WsCriticalTimeoutSec = 20
	if err := cfg.Validate(); err == nil {
		t.Fatalf("熔断超时 ≤ 降级超时应报错")
	}
}

func TestValidateStorageType(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Type = "mongodb"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("不支持的存储类型应报错")
	}
}

func TestSymbolFor(t *testing.T) {
	cfg := validConfig()
	if sc := cfg.SymbolFor("BTC-USD-PERP"); sc == nil {
		t.Fatalf("应找到已配置的交易对")
	}
	if sc := cfg.SymbolFor("DOGE-USD-PERP"); sc != nil {
		t.Fatalf("未配置的交易对应返回 nil")
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.ZEntry = 2.5
	cfg.Web.Listen = ":9090"

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	if loaded.Trading.ZEntry != 2.5 || loaded.Web.Listen != ":9090" {
		t.Fatalf("往返后字段丢失: %v/%s", loaded.Trading.ZEntry, loaded.Web.Listen)
	}
}
