package engine

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/models"
	"papertrade/internal/signal"
)

// fakeStats - табличная реализация StrategyStats для тестов
type fakeStats struct {
	vols    map[string]float64
	wins    map[string]float64
	payoffs map[string]float64
}

func (f *fakeStats) Volatility(s string) (float64, bool)  { v, ok := f.vols[s]; return v, ok }
func (f *fakeStats) WinRate(s string) (float64, bool)     { v, ok := f.wins[s]; return v, ok }
func (f *fakeStats) PayoffRatio(s string) (float64, bool) { v, ok := f.payoffs[s]; return v, ok }

func sig(strategy, symbol string) models.Signal {
	return models.Signal{StrategyID: strategy, Symbol: symbol, Side: models.SideBuy}
}

func sumWeights(w []float64) float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

func TestAllocator_EqualWeight(t *testing.T) {
	a := NewAllocator(config.PolicyEqualWeight, &fakeStats{}, nil, zap.NewNop())

	w := a.Weights([]models.Signal{sig("a", "X"), sig("b", "Y"), sig("c", "Z")})
	for i, v := range w {
		if math.Abs(v-1.0/3) > 1e-9 {
			t.Errorf("weight[%d] = %f, want 1/3", i, v)
		}
	}
}

func TestAllocator_RiskParity(t *testing.T) {
	stats := &fakeStats{vols: map[string]float64{"a": 0.10, "b": 0.20}}
	a := NewAllocator(config.PolicyRiskParity, stats, nil, zap.NewNop())

	w := a.Weights([]models.Signal{sig("a", "X"), sig("b", "Y")})

	// Обратная пропорция волатильности: 1/0.1 : 1/0.2 = 2 : 1
	if math.Abs(w[0]/w[1]-2.0) > 1e-9 {
		t.Errorf("weight ratio = %f, want 2.0", w[0]/w[1])
	}
	if math.Abs(sumWeights(w)-1.0) > 1e-9 {
		t.Errorf("sum = %f, want 1.0", sumWeights(w))
	}
}

func TestAllocator_RiskParityColdStart(t *testing.T) {
	// Нет статистики - деградация к равному делению
	a := NewAllocator(config.PolicyRiskParity, &fakeStats{}, nil, zap.NewNop())

	w := a.Weights([]models.Signal{sig("a", "X"), sig("b", "Y")})
	for i, v := range w {
		if math.Abs(v-0.5) > 1e-9 {
			t.Errorf("weight[%d] = %f, want 0.5 on cold start", i, v)
		}
	}
}

func TestAllocator_KellyCapAndFloor(t *testing.T) {
	stats := &fakeStats{
		wins:    map[string]float64{"hot": 0.9, "cold": 0.1},
		payoffs: map[string]float64{"hot": 3.0, "cold": 1.0},
	}
	a := NewAllocator(config.PolicyKelly, stats, nil, zap.NewNop())

	w := a.Weights([]models.Signal{sig("hot", "X"), sig("cold", "Y")})

	// hot: (0.9*3 - 0.1)/3 = 0.8667 → кап 0.25
	if math.Abs(w[0]-0.25) > 1e-9 {
		t.Errorf("hot weight = %f, want capped 0.25", w[0])
	}
	// cold: (0.1*1 - 0.9)/1 = -0.8 → пол 0
	if w[1] != 0 {
		t.Errorf("cold weight = %f, want floored 0", w[1])
	}
}

func TestAllocator_KellyColdStart(t *testing.T) {
	a := NewAllocator(config.PolicyKelly, &fakeStats{}, nil, zap.NewNop())

	w := a.Weights([]models.Signal{sig("a", "X"), sig("b", "Y")})
	for i, v := range w {
		if math.Abs(v-0.5) > 1e-9 {
			t.Errorf("weight[%d] = %f, want 0.5 on cold start", i, v)
		}
	}
}

func TestAllocator_MLWeighted(t *testing.T) {
	scores := signal.StaticScores{
		"a/X/BUY": 0.8,
	}
	a := NewAllocator(config.PolicyMLWeighted, &fakeStats{}, scores, zap.NewNop())

	conf := 0.4
	s1 := sig("a", "X")
	s2 := models.Signal{StrategyID: "b", Symbol: "Y", Side: models.SideBuy, Confidence: &conf}
	s3 := sig("c", "Z") // без оценки - поведение equal_weight

	w := a.Weights([]models.Signal{s1, s2, s3})

	total := 0.8 + 0.4 + 1.0/3
	if math.Abs(w[0]-0.8/total) > 1e-9 {
		t.Errorf("w[0] = %f, want %f", w[0], 0.8/total)
	}
	if math.Abs(w[1]-0.4/total) > 1e-9 {
		t.Errorf("w[1] = %f, want %f", w[1], 0.4/total)
	}
}

func TestAllocator_WeightsSumAtMostOne(t *testing.T) {
	policies := []string{
		config.PolicyEqualWeight, config.PolicyRiskParity,
		config.PolicyKelly, config.PolicyMLWeighted,
	}
	stats := &fakeStats{
		vols:    map[string]float64{"a": 0.01, "b": 0.5},
		wins:    map[string]float64{"a": 0.7},
		payoffs: map[string]float64{"a": 2.0},
	}
	signals := []models.Signal{sig("a", "X"), sig("b", "Y"), sig("c", "Z"), sig("d", "W"), sig("e", "V")}

	for _, p := range policies {
		t.Run(p, func(t *testing.T) {
			a := NewAllocator(p, stats, nil, zap.NewNop())
			if total := sumWeights(a.Weights(signals)); total > 1.0+1e-9 {
				t.Errorf("policy %s: sum = %f, want <= 1", p, total)
			}
		})
	}
}

func TestAllocator_Allocate(t *testing.T) {
	a := NewAllocator(config.PolicyEqualWeight, &fakeStats{}, nil, zap.NewNop())

	alloc := a.Allocate([]models.Signal{sig("a", "X"), sig("b", "Y")}, decimal.NewFromInt(100000))
	for i, v := range alloc {
		if !v.Equal(decimal.NewFromInt(50000)) {
			t.Errorf("alloc[%d] = %s, want 50000", i, v)
		}
	}
}

// TestAllocator_IdenticalSignalsGetSeparateBudgets: два неотличимых сигнала
// одного шага (стратегия/символ/сторона совпадают) получают раздельные
// бюджеты, суммарно не превышающие капитал
func TestAllocator_IdenticalSignalsGetSeparateBudgets(t *testing.T) {
	a := NewAllocator(config.PolicyEqualWeight, &fakeStats{}, nil, zap.NewNop())

	signals := []models.Signal{sig("a", "X"), sig("a", "X")}
	alloc := a.Allocate(signals, decimal.NewFromInt(100000))

	if len(alloc) != 2 {
		t.Fatalf("alloc entries = %d, want 2", len(alloc))
	}
	total := decimal.Zero
	for i, v := range alloc {
		if !v.Equal(decimal.NewFromInt(50000)) {
			t.Errorf("alloc[%d] = %s, want 50000", i, v)
		}
		total = total.Add(v)
	}
	if total.GreaterThan(decimal.NewFromInt(100000)) {
		t.Errorf("combined budget %s exceeds capital", total)
	}
}

func TestAllocator_EmptySignals(t *testing.T) {
	a := NewAllocator(config.PolicyEqualWeight, &fakeStats{}, nil, zap.NewNop())
	if len(a.Weights(nil)) != 0 {
		t.Error("Expected empty weights for empty signal set")
	}
}

// TestAllocator_MLWeightedConfidenceSum: сумма уверенностей превышает 1 -
// веса масштабируются до суммы 1
func TestAllocator_MLWeightedConfidenceSum(t *testing.T) {
	c1, c2 := 0.9, 0.8
	s1 := models.Signal{StrategyID: "a", Symbol: "X", Side: models.SideBuy, Confidence: &c1}
	s2 := models.Signal{StrategyID: "b", Symbol: "Y", Side: models.SideBuy, Confidence: &c2}

	a := NewAllocator(config.PolicyMLWeighted, &fakeStats{}, nil, zap.NewNop())
	w := a.Weights([]models.Signal{s1, s2})

	if math.Abs(sumWeights(w)-1.0) > 1e-9 {
		t.Errorf("sum = %f, want scaled to 1", sumWeights(w))
	}
	if math.Abs(w[0]/w[1]-0.9/0.8) > 1e-9 {
		t.Error("Scaling must preserve proportions")
	}
}
