package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbmesh/config"
	"arbmesh/event"
	"arbmesh/exchange"
	"arbmesh/exchange/sim"
	"arbmesh/lock"
	"arbmesh/logger"
	"arbmesh/market"
	"arbmesh/monitor"
	"arbmesh/notify"
	"arbmesh/risk"
	"arbmesh/storage"
	"arbmesh/strategy"
	"arbmesh/utils"
	"arbmesh/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 时区 %s 加载失败，使用默认时区: %v", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.GlobalLocation)

	logger.Info("🚀 arbmesh 跨所价差套利引擎启动")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 持久化层
	store, err := storage.NewGormStorage(&storage.DBConfig{
		Type: cfg.Storage.Type,
		DSN:  cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer store.Close()

	svc := storage.NewStorageService(
		store,
		cfg.Storage.BufferSize,
		time.Duration(cfg.Storage.FlushIntervalSec)*time.Second,
		cfg.Storage.HistoryRetention,
	)
	svc.Start(ctx)
	defer svc.Stop()

	logger.InitLogStorage(svc.EnqueueAppLog)
	defer logger.Close()

	// 事件链路
	bus := event.NewEventBus(1000)
	var notifier event.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.NewNotificationService(&cfg.Notify)
	}
	center := event.NewEventCenter(bus, svc, notifier)
	center.Start(ctx)
	defer center.Stop()

	// 交易所客户端
	paradex, grvt, err := buildExchanges(cfg)
	if err != nil {
		return err
	}

	// 分布式锁
	locker, err := lock.New(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	defer locker.Close()

	// 核心组件
	riskEngine := risk.NewRiskEngine(cfg)
	books := market.NewOrderBookManager(cfg.Risk.StaleMs)
	scanner := market.NewMarketScanner(cfg, paradex, grvt, books, riskEngine.Limiter, svc, store)
	modes := strategy.NewModeController(cfg)
	spread := strategy.NewSpreadEngine(cfg, modes)
	positions := strategy.NewPositionManager()
	perf := strategy.NewPerformanceTracker()
	exec := strategy.NewExecutionEngine(cfg, paradex, grvt, positions, perf, riskEngine.Limiter, bus, svc)

	orch := strategy.NewOrchestrator(cfg, paradex, grvt, books, scanner, riskEngine, modes, spread, positions, perf, exec, bus, locker)

	// 系统看门狗
	watchdog := monitor.NewWatchdog(&cfg.System, bus)
	watchdog.Start()
	defer watchdog.Stop()

	// 管理接口
	var server *web.Server
	if cfg.Web.Enabled {
		server = web.NewServer(cfg, orch, center, store, watchdog)
		server.Start()
		defer server.Stop()
	}

	// 配置热更新：只有运行期安全字段即时生效，其余提示重启
	watcher, err := config.NewConfigWatcher(configPath, func(newCfg *config.Config) {
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
	})
	if err != nil {
		logger.Warn("⚠️ 配置监控器创建失败: %v", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 配置监控器启动失败: %v", err)
		} else {
			defer watcher.Stop()
			go consumeConfigUpdates(ctx, watcher, bus)
		}
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("引擎启动失败: %w", err)
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("🛑 收到信号 %s，开始优雅停机", sig)

	if err := orch.Stop(false); err != nil {
		logger.Error("❌ 引擎停止失败: %v", err)
	}
	return nil
}

// buildExchanges 按配置装配两所客户端：
// 模拟行情模式用内置模拟盘，否则走注册表里的真实客户端。
func buildExchanges(cfg *config.Config) (exchange.IExchange, exchange.IExchange, error) {
	if cfg.Trading.SimulateMarketData {
		logger.Warn("⚠️ 模拟行情模式：所有成交均为本地撮合")
		paradex := sim.New(sim.Options{
			Venue: exchange.VenueParadex,
			Fees:  feesFromConfig(cfg, "paradex"),
		})
		grvt := sim.New(sim.Options{
			Venue: exchange.VenueGRVT,
			Fees:  feesFromConfig(cfg, "grvt"),
		})
		return paradex, grvt, nil
	}

	paradex, err := exchange.NewExchange(exchange.VenueParadex, cfg.Exchanges["paradex"])
	if err != nil {
		return nil, nil, fmt.Errorf("创建 paradex 客户端失败: %w", err)
	}
	grvt, err := exchange.NewExchange(exchange.VenueGRVT, cfg.Exchanges["grvt"])
	if err != nil {
		return nil, nil, fmt.Errorf("创建 grvt 客户端失败: %w", err)
	}
	return paradex, grvt, nil
}

func feesFromConfig(cfg *config.Config, venue string) exchange.FeeRates {
	exCfg := cfg.Exchanges[venue]
	return exchange.FeeRates{Maker: exCfg.MakerFeeRate, Taker: exCfg.TakerFeeRate}
}

// consumeConfigUpdates 消费配置变更与监控错误
func consumeConfigUpdates(ctx context.Context, watcher *config.ConfigWatcher, bus *event.EventBus) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.GetUpdateChan():
			logger.Info("📝 配置文件已变更，交易参数重启后生效")
			bus.Publish(event.New(event.LevelInfo, "system", "", "配置文件已变更，交易参数重启后生效"))
		case err := <-watcher.GetErrorChan():
			logger.Warn("⚠️ 配置监控错误: %v", err)
		}
	}
}
