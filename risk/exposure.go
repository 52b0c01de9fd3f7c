package risk

import (
	"math"
	"sync"
)

// ExposureVerdict 净敞口判定
type ExposureVerdict int

const (
	ExposureNormal ExposureVerdict = iota // 正常
	ExposureSoft                          // 超过软阈值：渐进再平衡
	ExposureHard                          // 超过硬阈值：全部平仓并暂停开仓
)

// String 返回判定名称
func (v ExposureVerdict) String() string {
	switch v {
	case ExposureNormal:
		return "normal"
	case ExposureSoft:
		return "soft_breach"
	case ExposureHard:
		return "hard_breach"
	default:
		return "unknown"
	}
}

// ExposureGuard 净敞口守卫。
// 阈值以 base_order_qty 的倍数表示；硬阈值触发后进入暂停态，
// 直到总敞口降回软阈值以下才恢复开仓。
type ExposureGuard struct {
	baseQty        float64
	softMultiplier float64
	hardMultiplier float64

	mu      sync.Mutex
	paused  bool // 硬阈值触发后的暂停标记
	verdict ExposureVerdict
}

// NewExposureGuard 创建净敞口守卫
func NewExposureGuard(baseQty, softMultiplier, hardMultiplier float64) *ExposureGuard {
	return &ExposureGuard{
		baseQty:        baseQty,
		softMultiplier: softMultiplier,
		hardMultiplier: hardMultiplier,
	}
}

// SoftLimit 软阈值
func (eg *ExposureGuard) SoftLimit() float64 {
	return eg.baseQty * eg.softMultiplier
}

// HardLimit 硬阈值
func (eg *ExposureGuard) HardLimit() float64 {
	return eg.baseQty * eg.hardMultiplier
}

// Evaluate 判定总净敞口（各交易对价格加权净敞口绝对值之和）。
// 阈值按 base_order_qty × 参考价换算成名义值后比较，
// 参考价未知时按原始数量判定。硬阈值触发后保持暂停，
// 直到降回软阈值以下。
func (eg *ExposureGuard) Evaluate(totalNotional, refPrice float64) ExposureVerdict {
	if refPrice <= 0 {
		refPrice = 1
	}
	abs := math.Abs(totalNotional)
	soft := eg.SoftLimit() * refPrice
	hard := eg.HardLimit() * refPrice

	eg.mu.Lock()
	defer eg.mu.Unlock()

	switch {
	case abs >= hard:
		eg.paused = true
		eg.verdict = ExposureHard
	case eg.paused:
		if abs < soft {
			eg.paused = false
			eg.verdict = ExposureNormal
		} else {
			// 仍在冷却期，继续按软阈值处理
			eg.verdict = ExposureSoft
		}
	case abs >= soft:
		eg.verdict = ExposureSoft
	default:
		eg.verdict = ExposureNormal
	}
	return eg.verdict
}

// State 最近一次判定结果
func (eg *ExposureGuard) State() ExposureVerdict {
	eg.mu.Lock()
	defer eg.mu.Unlock()
	return eg.verdict
}

// EntriesPaused 硬阈值触发后的暂停态是否仍在生效
func (eg *ExposureGuard) EntriesPaused() bool {
	eg.mu.Lock()
	defer eg.mu.Unlock()
	return eg.paused
}
