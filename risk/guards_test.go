package risk

import (
	"testing"
	"time"

	"arbmesh/exchange"
)

func TestWsSupervisorTiers(t *testing.T) {
	// 降级阈值 8s，熔断阈值 20s
	ws := NewWsSupervisor(8*time.Second, 20*time.Second)
	now := time.Now()

	// 从未收到消息视为熔断
	if tier := ws.Tier(exchange.VenueParadex, now); tier != WsTierCritical {
		t.Fatalf("未收到过消息应为 critical，得到 %s", tier)
	}

	ws.MarkAlive(exchange.VenueParadex, now)
	if tier := ws.Tier(exchange.VenueParadex, now.Add(5*time.Second)); tier != WsTierOK {
		t.Fatalf("空闲 5s 应为 ok，得到 %s", tier)
	}
	if tier := ws.Tier(exchange.VenueParadex, now.Add(10*time.Second)); tier != WsTierDegraded {
		t.Fatalf("空闲 10s 应为 degraded，得到 %s", tier)
	}
	if tier := ws.Tier(exchange.VenueParadex, now.Add(25*time.Second)); tier != WsTierCritical {
		t.Fatalf("空闲 25s 应为 critical，得到 %s", tier)
	}
}

func TestWsSupervisorWorstTier(t *testing.T) {
	ws := NewWsSupervisor(8*time.Second, 20*time.Second)
	now := time.Now()

	ws.MarkAlive(exchange.VenueParadex, now)
	ws.MarkAlive(exchange.VenueGRVT, now.Add(-10*time.Second))

	worst := ws.WorstTier([]exchange.Venue{exchange.VenueParadex, exchange.VenueGRVT}, now)
	if worst != WsTierDegraded {
		t.Fatalf("最差分级应为 degraded，得到 %s", worst)
	}
}

func TestWsSupervisorIgnoresStaleMark(t *testing.T) {
	ws := NewWsSupervisor(8*time.Second, 20*time.Second)
	now := time.Now()

	ws.MarkAlive(exchange.VenueParadex, now)
	ws.MarkAlive(exchange.VenueParadex, now.Add(-time.Minute)) // 乱序时间戳不回退

	if idle := ws.IdleMs(exchange.VenueParadex, now); idle != 0 {
		t.Fatalf("IdleMs = %d, 期望 0", idle)
	}
}

func TestConsistencyGuardBlocksAfterConsecutiveFailures(t *testing.T) {
	// 容差 0.08 bps，连续 3 次超差后阻断
	cg := NewConsistencyGuard(0.08, 3)

	// rest 100, ws 100.002 → 偏差 0.2 bps，超差
	for i := 0; i < 2; i++ {
		if ok, _ := cg.Verify(exchange.VenueParadex, "BTC", 100, 100.002); ok {
			t.Fatalf("偏差 0.2 bps 应超出容差")
		}
	}
	if cg.IsBlocked(exchange.VenueParadex, "BTC") {
		t.Fatalf("2 次超差不应阻断")
	}

	cg.Verify(exchange.VenueParadex, "BTC", 100, 100.002)
	if !cg.IsBlocked(exchange.VenueParadex, "BTC") {
		t.Fatalf("连续 3 次超差应阻断")
	}
}

func TestConsistencyGuardResetsOnSuccess(t *testing.T) {
	cg := NewConsistencyGuard(0.08, 3)

	cg.Verify(exchange.VenueParadex, "BTC", 100, 100.002)
	cg.Verify(exchange.VenueParadex, "BTC", 100, 100.002)

	// 偏差回到容差内 → 计数清零
	if ok, diff := cg.Verify(exchange.VenueParadex, "BTC", 100, 100.00005); !ok {
		t.Fatalf("偏差 %.4f bps 应在容差内", diff)
	}

	cg.Verify(exchange.VenueParadex, "BTC", 100, 100.002)
	if cg.IsBlocked(exchange.VenueParadex, "BTC") {
		t.Fatalf("计数已清零，单次超差不应阻断")
	}
}

func TestExposureGuardThresholds(t *testing.T) {
	// base=0.001，软 1.5 倍=0.0015，硬 3 倍=0.003（参考价 1 = 按数量判定）
	eg := NewExposureGuard(0.001, 1.5, 3.0)

	if v := eg.Evaluate(0.001, 1); v != ExposureNormal {
		t.Fatalf("0.001 应为 normal，得到 %s", v)
	}
	if v := eg.Evaluate(0.002, 1); v != ExposureSoft {
		t.Fatalf("0.002 应为 soft_breach，得到 %s", v)
	}
	if v := eg.Evaluate(0.003, 1); v != ExposureHard {
		t.Fatalf("0.003 应为 hard_breach，得到 %s", v)
	}
}

func TestExposureGuardPriceWeightedThresholds(t *testing.T) {
	// 名义值判定：base=0.001 × 参考价 100 → 软 0.15，硬 0.3
	eg := NewExposureGuard(0.001, 1.5, 3.0)

	if v := eg.Evaluate(0.1, 100); v != ExposureNormal {
		t.Fatalf("名义 0.1 应为 normal，得到 %s", v)
	}
	if v := eg.Evaluate(0.2, 100); v != ExposureSoft {
		t.Fatalf("名义 0.2 应为 soft_breach，得到 %s", v)
	}
	if v := eg.Evaluate(0.3, 100); v != ExposureHard {
		t.Fatalf("名义 0.3 应为 hard_breach，得到 %s", v)
	}
}

func TestExposureGuardPausedLatch(t *testing.T) {
	// 硬阈值触发后进入暂停态，降到软阈值以下才解除
	eg := NewExposureGuard(0.001, 1.5, 3.0)

	eg.Evaluate(0.005, 1)
	if !eg.EntriesPaused() {
		t.Fatalf("硬阈值触发后应暂停开仓")
	}

	// 降到软硬之间：仍在冷却期
	if v := eg.Evaluate(0.002, 1); v != ExposureSoft {
		t.Fatalf("冷却期内应按 soft 处理，得到 %s", v)
	}
	if !eg.EntriesPaused() {
		t.Fatalf("未降回软阈值以下不应解除暂停")
	}

	// 降回软阈值以下：恢复
	if v := eg.Evaluate(0.001, 1); v != ExposureNormal {
		t.Fatalf("降回软阈值以下应恢复 normal，得到 %s", v)
	}
	if eg.EntriesPaused() {
		t.Fatalf("恢复后不应再暂停")
	}
}

func TestExposureGuardNegativeExposure(t *testing.T) {
	eg := NewExposureGuard(0.001, 1.5, 3.0)
	if v := eg.Evaluate(-0.004, 1); v != ExposureHard {
		t.Fatalf("负向净敞口取绝对值判定，得到 %s", v)
	}
}
