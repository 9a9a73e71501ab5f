package signal

import (
	"testing"
	"time"

	"papertrade/internal/models"
)

func TestSliceSource_OrderAndExhaustion(t *testing.T) {
	at := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	src := NewSliceSource([]models.Signal{
		{StrategyID: "alpha", Symbol: "NIFTY", Side: models.SideBuy, At: at},
		{StrategyID: "alpha", Symbol: "BANKNIFTY", Side: models.SideSell, At: at.Add(time.Minute)},
	})

	first, ok := src.Next()
	if !ok || first.Symbol != "NIFTY" {
		t.Fatalf("first signal = %+v, ok=%v", first, ok)
	}
	second, ok := src.Next()
	if !ok || second.Symbol != "BANKNIFTY" {
		t.Fatalf("second signal = %+v, ok=%v", second, ok)
	}
	if _, ok := src.Next(); ok {
		t.Error("exhausted source must return ok=false")
	}
	// Исчерпанный источник остаётся исчерпанным
	if _, ok := src.Next(); ok {
		t.Error("exhausted source must stay exhausted")
	}
}

func TestSliceSource_Reset(t *testing.T) {
	src := NewSliceSource([]models.Signal{
		{StrategyID: "alpha", Symbol: "NIFTY", Side: models.SideBuy},
	})

	if _, ok := src.Next(); !ok {
		t.Fatal("expected a signal")
	}
	if _, ok := src.Next(); ok {
		t.Fatal("expected exhaustion")
	}

	src.Reset()

	sig, ok := src.Next()
	if !ok || sig.Symbol != "NIFTY" {
		t.Errorf("after Reset: signal = %+v, ok=%v", sig, ok)
	}
}

func TestSliceSource_Empty(t *testing.T) {
	src := NewSliceSource(nil)
	if _, ok := src.Next(); ok {
		t.Error("empty source must return ok=false")
	}
}

func TestStaticScores(t *testing.T) {
	scores := StaticScores{
		"alpha/NIFTY/BUY": 0.8,
	}

	known := models.Signal{StrategyID: "alpha", Symbol: "NIFTY", Side: models.SideBuy}
	if v, ok := scores.Score(known); !ok || v != 0.8 {
		t.Errorf("Score(known) = %v, %v; want 0.8, true", v, ok)
	}

	unknown := models.Signal{StrategyID: "beta", Symbol: "NIFTY", Side: models.SideBuy}
	if _, ok := scores.Score(unknown); ok {
		t.Error("unknown signal must return ok=false")
	}
}
