package strategy

import (
	"sync"

	"arbmesh/config"
)

// Mode 策略模式
type Mode string

const (
	ModeNormalArb Mode = "normal_arb" // 常规套利
	ModeZeroWear  Mode = "zero_wear"  // 零磨损：更温和的阈值与更轻的分批
)

// Valid 模式是否合法
func (m Mode) Valid() bool {
	return m == ModeNormalArb || m == ModeZeroWear
}

// ModeProfile 模式参数集
type ModeProfile struct {
	ZEntry         float64
	ZExit          float64
	MinEdgeFactor  float64   // min_edge_bps 的缩放系数
	TrancheWeights []float64 // 各分批的数量权重
}

// ModeController 模式控制器：集中管理两种模式的阈值差异
type ModeController struct {
	cfg *config.Config

	mu      sync.RWMutex
	current Mode
}

// NewModeController 创建模式控制器
func NewModeController(cfg *config.Config) *ModeController {
	mode := Mode(cfg.Trading.Mode)
	if !mode.Valid() {
		mode = ModeNormalArb
	}
	return &ModeController{cfg: cfg, current: mode}
}

// Current 当前模式
func (mc *ModeController) Current() Mode {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.current
}

// Set 切换模式
func (mc *ModeController) Set(mode Mode) bool {
	if !mode.Valid() {
		return false
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.current = mode
	return true
}

// Profile 当前模式的参数集
func (mc *ModeController) Profile() ModeProfile {
	t := &mc.cfg.Trading

	switch mc.Current() {
	case ModeZeroWear:
		return ModeProfile{
			ZEntry:         t.ZeroWearZEntry,
			ZExit:          t.ZeroWearZExit,
			MinEdgeFactor:  0.7,
			TrancheWeights: []float64{0.6, 0.4, 0.2},
		}
	default:
		return ModeProfile{
			ZEntry:         t.ZEntry,
			ZExit:          t.ZExit,
			MinEdgeFactor:  1.0,
			TrancheWeights: []float64{1.0, 0.7, 0.5},
		}
	}
}
