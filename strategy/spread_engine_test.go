package strategy

import (
	"testing"

	"arbmesh/config"
	"arbmesh/market"
)

func spreadTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Trading.Symbols = []config.SymbolConfig{{Symbol: "BTC-USD-PERP"}}
	cfg.Trading.Mode = "normal_arb"
	cfg.Trading.ZEntry = 2.0
	cfg.Trading.ZExit = 0.5
	cfg.Trading.ZeroWearZEntry = 1.2
	cfg.Trading.ZeroWearZExit = 0.3
	cfg.Trading.MinEdgeBps = 1.0
	return cfg
}

func tradableResult(zscore, netBps float64) *market.ScanResult {
	return &market.ScanResult{
		Symbol:    "BTC-USD-PERP",
		Direction: market.DirectionShortParadexLongGrvt,
		EdgeBps:   5.0,
		NetBps:    netBps,
		Zscore:    zscore,
		Ready:     true,
		Tradable:  true,
	}
}

func TestTrancheCount(t *testing.T) {
	// min(3, max(1, floor(|z| / z_entry)))
	cases := []struct {
		z, entry float64
		want     int
	}{
		{1.0, 2.0, 1},  // floor(0.5)=0 → 提到 1
		{2.0, 2.0, 1},  // floor(1)=1
		{4.5, 2.0, 2},  // floor(2.25)=2
		{6.0, 2.0, 3},  // floor(3)=3
		{20.0, 2.0, 3}, // 封顶 3
		{-4.5, 2.0, 2}, // 取绝对值
	}
	for _, c := range cases {
		if got := TrancheCount(c.z, c.entry); got != c.want {
			t.Fatalf("TrancheCount(%v, %v) = %d, 期望 %d", c.z, c.entry, got, c.want)
		}
	}
}

func TestGenerateSignalOpenOnEntry(t *testing.T) {
	cfg := spreadTestConfig()
	se := NewSpreadEngine(cfg, NewModeController(cfg))

	// |z|=2.0 触及 z_entry=2.0 → 开仓，1 批
	sig := se.GenerateSignal(tradableResult(2.0, 10.0), &PositionState{Symbol: "BTC-USD-PERP"})
	if sig.Action != ActionOpen {
		t.Fatalf("action = %s, 期望 open (%s)", sig.Action, sig.Reason)
	}
	if sig.Tranches != 1 || len(sig.Weights) != 1 {
		t.Fatalf("tranches = %d weights = %v, 期望 1 批", sig.Tranches, sig.Weights)
	}
	if sig.Direction != market.DirectionShortParadexLongGrvt {
		t.Fatalf("方向应透传扫描结果")
	}
}

func TestGenerateSignalHysteresis(t *testing.T) {
	// 迟滞区间：z_exit=0.5 < |z| < z_entry=2.0 时既不开也不平
	cfg := spreadTestConfig()
	se := NewSpreadEngine(cfg, NewModeController(cfg))

	// 无持仓 + |z|=1.0 → 持有
	flat := &PositionState{Symbol: "BTC-USD-PERP"}
	sig := se.GenerateSignal(tradableResult(1.0, 10.0), flat)
	if sig.Action != ActionHold || sig.Reason != "z_below_entry" {
		t.Fatalf("迟滞区间内无持仓应 hold/z_below_entry，得到 %s/%s", sig.Action, sig.Reason)
	}

	// 有持仓 + |z|=1.0 → 继续持有
	holding := &PositionState{Symbol: "BTC-USD-PERP", ParadexQty: -0.001, GrvtQty: 0.001}
	sig = se.GenerateSignal(tradableResult(1.0, 10.0), holding)
	if sig.Action != ActionHold || sig.Reason != "holding" {
		t.Fatalf("迟滞区间内有持仓应 hold/holding，得到 %s/%s", sig.Action, sig.Reason)
	}

	// 有持仓 + |z|=0.4 ≤ z_exit → 平仓
	sig = se.GenerateSignal(tradableResult(-0.4, 10.0), holding)
	if sig.Action != ActionClose || sig.Reason != "z_reverted" {
		t.Fatalf("|z| 回落到 z_exit 内应平仓，得到 %s/%s", sig.Action, sig.Reason)
	}
}

func TestGenerateSignalNetEdgeBelowMin(t *testing.T) {
	cfg := spreadTestConfig()
	se := NewSpreadEngine(cfg, NewModeController(cfg))

	sig := se.GenerateSignal(tradableResult(3.0, 0.5), &PositionState{Symbol: "BTC-USD-PERP"})
	if sig.Action != ActionHold || sig.Reason != "net_edge_below_min" {
		t.Fatalf("净价差低于下限应 hold，得到 %s/%s", sig.Action, sig.Reason)
	}
}

func TestGenerateSignalNotTradablePassesSkipReason(t *testing.T) {
	cfg := spreadTestConfig()
	se := NewSpreadEngine(cfg, NewModeController(cfg))

	result := tradableResult(3.0, 10.0)
	result.Tradable = false
	result.SkipReason = market.SkipLeverageBelowFloor

	sig := se.GenerateSignal(result, &PositionState{Symbol: "BTC-USD-PERP"})
	if sig.Action != ActionHold || sig.Reason != market.SkipLeverageBelowFloor {
		t.Fatalf("不可交易时应透传 skip 原因，得到 %s/%s", sig.Action, sig.Reason)
	}
}

func TestGenerateSignalHoldsWhenStatsNotReadyWithPosition(t *testing.T) {
	// 有持仓但统计失效：不主动平仓，交由风控
	cfg := spreadTestConfig()
	se := NewSpreadEngine(cfg, NewModeController(cfg))

	result := tradableResult(0.0, 10.0)
	result.Ready = false
	holding := &PositionState{Symbol: "BTC-USD-PERP", ParadexQty: -0.001, GrvtQty: 0.001}

	sig := se.GenerateSignal(result, holding)
	if sig.Action != ActionHold || sig.Reason != "stats_not_ready" {
		t.Fatalf("统计失效时应 hold/stats_not_ready，得到 %s/%s", sig.Action, sig.Reason)
	}
}

func TestZeroWearModeUsesSofterThresholds(t *testing.T) {
	// zero_wear：z_entry=1.2，净价差下限 ×0.7，分批权重更轻
	cfg := spreadTestConfig()
	modes := NewModeController(cfg)
	modes.Set(ModeZeroWear)
	se := NewSpreadEngine(cfg, modes)

	// |z|=1.5 在 normal 下不够 2.0，但 zero_wear 下超过 1.2
	sig := se.GenerateSignal(tradableResult(1.5, 0.8), &PositionState{Symbol: "BTC-USD-PERP"})
	// 净价差 0.8 ≥ 1.0×0.7=0.7 → 通过
	if sig.Action != ActionOpen {
		t.Fatalf("zero_wear 模式下应开仓，得到 %s/%s", sig.Action, sig.Reason)
	}
	if sig.Weights[0] != 0.6 {
		t.Fatalf("zero_wear 首批权重 = %v, 期望 0.6", sig.Weights[0])
	}
}

func TestSymbolLevelThresholdOverride(t *testing.T) {
	cfg := spreadTestConfig()
	cfg.Trading.Symbols[0].ZEntry = 3.0
	cfg.Trading.Symbols[0].ZExit = 1.0
	se := NewSpreadEngine(cfg, NewModeController(cfg))

	// |z|=2.5 够全局 2.0 但不够符号级 3.0
	sig := se.GenerateSignal(tradableResult(2.5, 10.0), &PositionState{Symbol: "BTC-USD-PERP"})
	if sig.Action != ActionHold || sig.Reason != "z_below_entry" {
		t.Fatalf("符号级阈值应覆盖全局，得到 %s/%s", sig.Action, sig.Reason)
	}
}
