package strategy

import (
	"math"

	"arbmesh/config"
	"arbmesh/market"
)

// SignalAction 信号动作
type SignalAction string

const (
	ActionHold  SignalAction = "hold"
	ActionOpen  SignalAction = "open"
	ActionClose SignalAction = "close"
)

// SpreadSignal 价差信号
type SpreadSignal struct {
	Symbol    string           `json:"symbol"`
	Action    SignalAction     `json:"action"`
	Direction market.Direction `json:"direction,omitempty"`
	EdgeBps   float64          `json:"edge_bps"`
	NetBps    float64          `json:"net_bps"`
	Zscore    float64          `json:"zscore"`
	Tranches  int              `json:"tranches"`
	Weights   []float64        `json:"weights,omitempty"`
	Reason    string           `json:"reason"`
}

// MaxTranches 单次开仓的最大分批数
const MaxTranches = 3

// SpreadEngine 信号引擎：基于 zscore 迟滞阈值产生开/平仓信号。
// 开仓要求 |z| ≥ z_entry，平仓要求 |z| ≤ z_exit，
// 两阈值之间保持现状，避免在临界值附近反复开平。
type SpreadEngine struct {
	cfg   *config.Config
	modes *ModeController
}

// NewSpreadEngine 创建信号引擎
func NewSpreadEngine(cfg *config.Config, modes *ModeController) *SpreadEngine {
	return &SpreadEngine{cfg: cfg, modes: modes}
}

// thresholds 返回交易对生效的 z 阈值（符号级覆盖优先于模式默认值）
func (se *SpreadEngine) thresholds(symbol string, profile ModeProfile) (zEntry, zExit float64) {
	zEntry, zExit = profile.ZEntry, profile.ZExit
	if sc := se.cfg.SymbolFor(symbol); sc != nil {
		if sc.ZEntry > 0 {
			zEntry = sc.ZEntry
		}
		if sc.ZExit > 0 {
			zExit = sc.ZExit
		}
	}
	return zEntry, zExit
}

// TrancheCount 分批数：min(3, max(1, floor(|z| / z_entry)))
func TrancheCount(zscore, zEntry float64) int {
	if zEntry <= 0 {
		return 1
	}
	n := int(math.Floor(math.Abs(zscore) / zEntry))
	if n < 1 {
		n = 1
	}
	if n > MaxTranches {
		n = MaxTranches
	}
	return n
}

// GenerateSignal 根据扫描结果与当前持仓产生信号。
// 有持仓时只在 |z| 回落到 z_exit 以内给出平仓信号；
// 无持仓时要求可交易、净价差达标且 |z| 触及 z_entry。
func (se *SpreadEngine) GenerateSignal(result *market.ScanResult, pos *PositionState) *SpreadSignal {
	sig := &SpreadSignal{
		Symbol:  result.Symbol,
		Action:  ActionHold,
		EdgeBps: result.EdgeBps,
		NetBps:  result.NetBps,
		Zscore:  result.Zscore,
	}

	profile := se.modes.Profile()
	zEntry, zExit := se.thresholds(result.Symbol, profile)
	absZ := math.Abs(result.Zscore)

	hasPosition := pos != nil && !pos.IsFlat()

	if hasPosition {
		if !result.Ready {
			// 统计失效时不主动平仓，交由风控决定
			sig.Reason = "stats_not_ready"
			return sig
		}
		if absZ <= zExit {
			sig.Action = ActionClose
			sig.Reason = "z_reverted"
			return sig
		}
		sig.Reason = "holding"
		return sig
	}

	if !result.Tradable {
		sig.Reason = result.SkipReason
		return sig
	}

	minEdge := se.cfg.Trading.MinEdgeBps * profile.MinEdgeFactor
	if result.NetBps < minEdge {
		sig.Reason = "net_edge_below_min"
		return sig
	}

	if absZ < zEntry {
		sig.Reason = "z_below_entry"
		return sig
	}

	sig.Action = ActionOpen
	sig.Direction = result.Direction
	sig.Tranches = TrancheCount(result.Zscore, zEntry)
	sig.Weights = profile.TrancheWeights[:sig.Tranches]
	sig.Reason = "z_entry_triggered"
	return sig
}
