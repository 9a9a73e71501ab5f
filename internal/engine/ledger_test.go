package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/config"
	"papertrade/internal/models"
)

func testLedger(weights ...float64) *Ledger {
	pf := config.PortfolioConfig{
		InitialCapital: decimal.NewFromInt(1000000),
	}
	names := []string{"alpha", "beta", "gamma"}
	for i, w := range weights {
		pf.Strategies = append(pf.Strategies, config.StrategySpec{
			Name:         names[i],
			TargetWeight: w,
			MaxPositions: 5,
		})
	}
	return NewLedger(pf)
}

func fill(strategy, symbol, side string, qty int64, price string, commission string) (models.Trade, *models.Order) {
	t := models.Trade{
		ID:         models.NewTradeID(),
		OrderID:    models.NewOrderID(),
		Strategy:   strategy,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		Timestamp:  time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		Commission: decimal.RequireFromString(commission),
	}
	return t, &models.Order{ID: t.OrderID, Strategy: strategy, Symbol: symbol, Side: side, Quantity: qty}
}

var rate20 = decimal.RequireFromString("0.20")

func TestLedger_OpenLong(t *testing.T) {
	l := testLedger(0.5)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100.05", "40")
	if _, err := l.Apply(tr, o, rate20); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	pos, ok := l.Position("alpha", "NIFTY")
	if !ok {
		t.Fatal("Expected open position")
	}
	if pos.SignedQuantity != 100 {
		t.Errorf("SignedQuantity = %d, want 100", pos.SignedQuantity)
	}
	if !pos.AveragePrice.Equal(decimal.RequireFromString("100.05")) {
		t.Errorf("AveragePrice = %s, want 100.05", pos.AveragePrice)
	}

	// Кэш уменьшен на номинал + комиссию: 500000 - 100.05*100 - 40
	alloc, _ := l.Allocation("alpha")
	wantCash := decimal.RequireFromString("489955")
	if !alloc.Cash.Equal(wantCash) {
		t.Errorf("Cash = %s, want %s", alloc.Cash, wantCash)
	}

	// Маржа: 100.05*100*0.20 = 2001
	if !alloc.UsedMargin.Equal(decimal.RequireFromString("2001")) {
		t.Errorf("UsedMargin = %s, want 2001", alloc.UsedMargin)
	}
}

func TestLedger_RoundTripRealizedPnl(t *testing.T) {
	// Свойство: BUY затем SELL того же количества на плоской позиции
	// даёт реализованный PNL (sell - buy) * qty - суммарная комиссия
	l := testLedger(1.0)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100", "40")
	if _, err := l.Apply(tr, o, rate20); err != nil {
		t.Fatalf("buy: %v", err)
	}
	tr2, o2 := fill("alpha", "NIFTY", models.SideSell, 100, "110", "40")
	done, err := l.Apply(tr2, o2, rate20)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// Дельта сделки - брутто, без комиссии: (110-100)*100 = 1000
	if !done.RealizedPnlDelta.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("RealizedPnlDelta = %s, want 1000", done.RealizedPnlDelta)
	}

	// Позиция закрыта и удалена
	if _, ok := l.Position("alpha", "NIFTY"); ok {
		t.Error("Position must be removed at zero quantity")
	}

	// Нетто в кэше: 1000000 - 100*100 - 40 + 110*100 - 40 = 1000920
	alloc, _ := l.Allocation("alpha")
	if !alloc.Cash.Equal(decimal.NewFromInt(1000920)) {
		t.Errorf("Cash = %s, want 1000920", alloc.Cash)
	}

	// Маржа освобождена полностью
	if !alloc.UsedMargin.IsZero() {
		t.Errorf("UsedMargin = %s, want 0", alloc.UsedMargin)
	}
}

func TestLedger_WeightedAverageExtension(t *testing.T) {
	l := testLedger(1.0)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100", "40")
	l.Apply(tr, o, rate20)
	tr2, o2 := fill("alpha", "NIFTY", models.SideBuy, 50, "106", "40")
	l.Apply(tr2, o2, rate20)

	pos, _ := l.Position("alpha", "NIFTY")
	if pos.SignedQuantity != 150 {
		t.Errorf("SignedQuantity = %d, want 150", pos.SignedQuantity)
	}
	// (100*100 + 106*50) / 150 = 102
	if !pos.AveragePrice.Equal(decimal.NewFromInt(102)) {
		t.Errorf("AveragePrice = %s, want 102", pos.AveragePrice)
	}
}

func TestLedger_PartialReduce(t *testing.T) {
	l := testLedger(1.0)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100", "40")
	l.Apply(tr, o, rate20)
	tr2, o2 := fill("alpha", "NIFTY", models.SideSell, 40, "105", "40")
	done, err := l.Apply(tr2, o2, rate20)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Реализация на пересечении: (105-100)*40 = 200
	if !done.RealizedPnlDelta.Equal(decimal.NewFromInt(200)) {
		t.Errorf("RealizedPnlDelta = %s, want 200", done.RealizedPnlDelta)
	}

	pos, _ := l.Position("alpha", "NIFTY")
	if pos.SignedQuantity != 60 {
		t.Errorf("SignedQuantity = %d, want 60", pos.SignedQuantity)
	}
	// Средняя цена при сокращении не меняется
	if !pos.AveragePrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("AveragePrice = %s, want 100", pos.AveragePrice)
	}

	// Маржа освобождена пропорционально: 100*100*0.2 * 60/100 = 1200
	alloc, _ := l.Allocation("alpha")
	if !alloc.UsedMargin.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("UsedMargin = %s, want 1200", alloc.UsedMargin)
	}
}

func TestLedger_Flip(t *testing.T) {
	l := testLedger(1.0)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100", "40")
	l.Apply(tr, o, rate20)
	tr2, o2 := fill("alpha", "NIFTY", models.SideSell, 150, "105", "40")
	done, err := l.Apply(tr2, o2, rate20)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Реализация только на пересекающихся 100: (105-100)*100 = 500
	if !done.RealizedPnlDelta.Equal(decimal.NewFromInt(500)) {
		t.Errorf("RealizedPnlDelta = %s, want 500", done.RealizedPnlDelta)
	}

	pos, _ := l.Position("alpha", "NIFTY")
	if pos.SignedQuantity != -50 {
		t.Errorf("SignedQuantity = %d, want -50 (flipped short)", pos.SignedQuantity)
	}
	// Средняя цена сброшена на цену исполнения
	if !pos.AveragePrice.Equal(decimal.NewFromInt(105)) {
		t.Errorf("AveragePrice = %s, want 105", pos.AveragePrice)
	}

	// Маржа переворота: 105*50*0.2 = 1050
	alloc, _ := l.Allocation("alpha")
	if !alloc.UsedMargin.Equal(decimal.NewFromInt(1050)) {
		t.Errorf("UsedMargin = %s, want 1050", alloc.UsedMargin)
	}
}

func TestLedger_ShortRoundTrip(t *testing.T) {
	l := testLedger(1.0)

	tr, o := fill("alpha", "NIFTY", models.SideSell, 50, "200", "40")
	l.Apply(tr, o, rate20)
	tr2, o2 := fill("alpha", "NIFTY", models.SideBuy, 50, "190", "40")
	done, err := l.Apply(tr2, o2, rate20)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Шорт: (190-200)*50*(-1) = 500
	if !done.RealizedPnlDelta.Equal(decimal.NewFromInt(500)) {
		t.Errorf("RealizedPnlDelta = %s, want 500", done.RealizedPnlDelta)
	}
	if _, ok := l.Position("alpha", "NIFTY"); ok {
		t.Error("Short position must be removed at zero quantity")
	}
}

func TestLedger_UnrealizedRecomputedFresh(t *testing.T) {
	l := testLedger(1.0)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100", "40")
	l.Apply(tr, o, rate20)

	l.MarkToMarket("NIFTY", decimal.NewFromInt(103))
	pos, _ := l.Position("alpha", "NIFTY")
	if !pos.UnrealizedPnl.Equal(decimal.NewFromInt(300)) {
		t.Errorf("UnrealizedPnl = %s, want 300", pos.UnrealizedPnl)
	}

	l.MarkToMarket("NIFTY", decimal.NewFromInt(99))
	pos, _ = l.Position("alpha", "NIFTY")
	if !pos.UnrealizedPnl.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("UnrealizedPnl = %s, want -100", pos.UnrealizedPnl)
	}

	up := l.UnrealizedPnl("alpha", "NIFTY", decimal.NewFromInt(110))
	if !up.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("UnrealizedPnl(110) = %s, want 1000", up)
	}
}

func TestLedger_SnapshotInvariant(t *testing.T) {
	l := testLedger(0.6, 0.3)

	tr, o := fill("alpha", "NIFTY", models.SideBuy, 100, "100", "40")
	l.Apply(tr, o, rate20)
	tr2, o2 := fill("beta", "BANKNIFTY", models.SideBuy, 10, "480", "40")
	l.Apply(tr2, o2, rate20)

	snap := l.Snapshot(time.Now())

	sum := snap.Cash
	for _, v := range snap.StrategyBreakdown {
		sum = sum.Add(v)
	}
	if !snap.TotalEquity.Equal(sum) {
		t.Errorf("TotalEquity = %s, want cash + breakdown = %s", snap.TotalEquity, sum)
	}
	if !snap.TotalEquity.Equal(l.TotalEquity()) {
		t.Errorf("Snapshot equity %s differs from ledger equity %s", snap.TotalEquity, l.TotalEquity())
	}
}

func TestLedger_MarginInvariantHaltsStrategy(t *testing.T) {
	l := testLedger(0.5, 0.5)

	// Маржа 20% от 2600*1000 = 520000 > капитал 500000
	tr, o := fill("alpha", "NIFTY", models.SideBuy, 1000, "2600", "40")
	_, err := l.Apply(tr, o, rate20)
	if err != ErrMarginInvariant {
		t.Fatalf("Expected ErrMarginInvariant, got %v", err)
	}

	// Нарушение фатально только для виновной стратегии
	if !l.View("alpha").Halted {
		t.Error("alpha must be halted")
	}
	if l.View("beta").Halted {
		t.Error("beta must keep running")
	}

	halted := l.HaltedStrategies()
	if len(halted) != 1 || halted[0].Strategy != "alpha" {
		t.Errorf("HaltedStrategies = %v, want [alpha]", halted)
	}
}

func TestLedger_TransferCashClamped(t *testing.T) {
	l := testLedger(0.5, 0.5)

	moved := l.TransferCash("alpha", "beta", decimal.NewFromInt(600000))
	if !moved.Equal(decimal.NewFromInt(500000)) {
		t.Errorf("moved = %s, want clamp to 500000", moved)
	}

	a, _ := l.Allocation("alpha")
	b, _ := l.Allocation("beta")
	if !a.Cash.IsZero() {
		t.Errorf("alpha cash = %s, want 0", a.Cash)
	}
	if !b.Cash.Equal(decimal.NewFromInt(1000000)) {
		t.Errorf("beta cash = %s, want 1000000", b.Cash)
	}
}

func TestLedger_PositionsForSymbolOldestFirst(t *testing.T) {
	l := testLedger(0.5, 0.5)

	tr, o := fill("beta", "NIFTY", models.SideBuy, 10, "100", "0")
	tr.Timestamp = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	l.Apply(tr, o, rate20)

	tr2, o2 := fill("alpha", "NIFTY", models.SideBuy, 10, "100", "0")
	tr2.Timestamp = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	l.Apply(tr2, o2, rate20)

	got := l.PositionsForSymbol("NIFTY")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Strategy != "alpha" || got[1].Strategy != "beta" {
		t.Errorf("Order = [%s %s], want oldest first [alpha beta]", got[0].Strategy, got[1].Strategy)
	}
}
