package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/logger"
)

// SystemStat 系统资源快照
type SystemStat struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	MemUsedMB  float64   `json:"mem_used_mb"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Watchdog 系统资源看门狗：周期性采样 CPU/内存，
// 超过告警阈值时发布事件（同一指标持续超标只告警一次）。
type Watchdog struct {
	interval   time.Duration
	cpuAlert   float64
	memAlert   float64
	bus        *event.EventBus

	mu       sync.RWMutex
	last     SystemStat
	cpuAlarm bool
	memAlarm bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog 创建看门狗
func NewWatchdog(cfg *config.SystemConfig, bus *event.EventBus) *Watchdog {
	return &Watchdog{
		interval: time.Duration(cfg.WatchdogIntervalSec) * time.Second,
		cpuAlert: cfg.CPUAlertPercent,
		memAlert: cfg.MemAlertPercent,
		bus:      bus,
	}
}

// Start 启动采样循环
func (w *Watchdog) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)
	logger.Info("✅ 系统看门狗已启动: 间隔 %s, CPU 告警 %.0f%%, 内存告警 %.0f%%", w.interval, w.cpuAlert, w.memAlert)
}

// Stop 停止采样
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	logger.Info("🧹 系统看门狗已停止")
}

func (w *Watchdog) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sample(ctx)
		}
	}
}

// sample 采样一次并做阈值判定
func (w *Watchdog) sample(ctx context.Context) {
	stat := SystemStat{SampledAt: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stat.CPUPercent = percents[0]
	} else if err != nil {
		logger.Debug("CPU 采样失败: %v", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stat.MemPercent = vm.UsedPercent
		stat.MemUsedMB = float64(vm.Used) / 1024 / 1024
	} else {
		logger.Debug("内存采样失败: %v", err)
	}

	w.mu.Lock()
	w.last = stat
	cpuOver := w.cpuAlert > 0 && stat.CPUPercent >= w.cpuAlert
	memOver := w.memAlert > 0 && stat.MemPercent >= w.memAlert
	cpuFire := cpuOver && !w.cpuAlarm
	memFire := memOver && !w.memAlarm
	w.cpuAlarm = cpuOver
	w.memAlarm = memOver
	w.mu.Unlock()

	if cpuFire {
		w.publish(fmt.Sprintf("CPU 使用率 %.1f%% 超过阈值 %.0f%%", stat.CPUPercent, w.cpuAlert))
	}
	if memFire {
		w.publish(fmt.Sprintf("内存使用率 %.1f%% 超过阈值 %.0f%%", stat.MemPercent, w.memAlert))
	}
}

func (w *Watchdog) publish(message string) {
	logger.Warn("⚠️ [看门狗] %s", message)
	if w.bus != nil {
		w.bus.Publish(event.New(event.LevelWarning, "watchdog", "", message))
	}
}

// Last 最近一次采样结果
func (w *Watchdog) Last() SystemStat {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}
