package strategy

import (
	"testing"

	"arbmesh/exchange"
)

func TestRealizedPnLLongRoundTrip(t *testing.T) {
	// 买 1 @100，卖 1 @110 → 已实现 +10
	pt := NewPerformanceTracker()
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideBuy, 1, 100, 0)
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideSell, 1, 110, 0)

	snap := pt.Snapshot()
	if !almostEqualF(snap.RealizedPnL, 10, 1e-9) {
		t.Fatalf("RealizedPnL = %v, 期望 10", snap.RealizedPnL)
	}
	if snap.TradeCount != 2 {
		t.Fatalf("TradeCount = %d, 期望 2", snap.TradeCount)
	}
	if !almostEqualF(snap.Turnover, 210, 1e-9) {
		t.Fatalf("Turnover = %v, 期望 210", snap.Turnover)
	}
}

func TestRealizedPnLShortRoundTrip(t *testing.T) {
	// 卖 2 @100，买回 2 @90 → 已实现 (90-100)×2×(-1) = +20
	pt := NewPerformanceTracker()
	pt.OnFill(exchange.VenueGRVT, "BTC", exchange.SideSell, 2, 100, 0)
	pt.OnFill(exchange.VenueGRVT, "BTC", exchange.SideBuy, 2, 90, 0)

	if snap := pt.Snapshot(); !almostEqualF(snap.RealizedPnL, 20, 1e-9) {
		t.Fatalf("RealizedPnL = %v, 期望 20", snap.RealizedPnL)
	}
}

func TestWeightedAvgEntryOnAdd(t *testing.T) {
	// 买 1@100 + 买 1@110 → 均价 105；卖 2@105 → 已实现 0
	pt := NewPerformanceTracker()
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideBuy, 1, 100, 0)
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideBuy, 1, 110, 0)
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideSell, 2, 105, 0)

	if snap := pt.Snapshot(); !almostEqualF(snap.RealizedPnL, 0, 1e-9) {
		t.Fatalf("RealizedPnL = %v, 期望 0", snap.RealizedPnL)
	}
}

func TestUnrealizedFromMarkPrice(t *testing.T) {
	// 买 1@100，标记价 105 → 未实现 +5
	pt := NewPerformanceTracker()
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideBuy, 1, 100, 0)
	pt.MarkPrice(exchange.VenueParadex, "BTC", 105)

	snap := pt.Snapshot()
	if !almostEqualF(snap.UnrealizedPnL, 5, 1e-9) {
		t.Fatalf("UnrealizedPnL = %v, 期望 5", snap.UnrealizedPnL)
	}
	if !almostEqualF(snap.TotalPnL, 5, 1e-9) {
		t.Fatalf("TotalPnL = %v, 期望 5", snap.TotalPnL)
	}
}

func TestFlipRepricesRemainder(t *testing.T) {
	// 买 1@100，卖 2@110：平 1 实现 +10，剩余 -1 按 110 计价
	pt := NewPerformanceTracker()
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideBuy, 1, 100, 0)
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideSell, 2, 110, 0)

	if snap := pt.Snapshot(); !almostEqualF(snap.RealizedPnL, 10, 1e-9) {
		t.Fatalf("RealizedPnL = %v, 期望 10", snap.RealizedPnL)
	}

	// 空头 1 手 @110，标记价 100 → 未实现 +10
	pt.MarkPrice(exchange.VenueParadex, "BTC", 100)
	if snap := pt.Snapshot(); !almostEqualF(snap.UnrealizedPnL, 10, 1e-9) {
		t.Fatalf("反手后 UnrealizedPnL = %v, 期望 10", snap.UnrealizedPnL)
	}
}

func TestFeesReduceTotalPnL(t *testing.T) {
	pt := NewPerformanceTracker()
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideBuy, 1, 100, 0.5)
	pt.OnFill(exchange.VenueParadex, "BTC", exchange.SideSell, 1, 110, 0.5)

	snap := pt.Snapshot()
	if !almostEqualF(snap.Fees, 1, 1e-9) {
		t.Fatalf("Fees = %v, 期望 1", snap.Fees)
	}
	if !almostEqualF(snap.TotalPnL, 9, 1e-9) {
		t.Fatalf("TotalPnL = %v, 期望 9", snap.TotalPnL)
	}
}
