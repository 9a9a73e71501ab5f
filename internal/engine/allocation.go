package engine

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/models"
	"papertrade/internal/signal"
	"papertrade/pkg/utils"
)

// kellyCap - доля полного Келли (четверть-Келли, защита от переоценки)
const kellyCap = 0.25

// StrategyStats - трейлинг-статистика стратегий для политик аллокации.
// Отсутствие значения (false) означает холодный старт.
type StrategyStats interface {
	Volatility(strategy string) (float64, bool)
	WinRate(strategy string) (float64, bool)
	PayoffRatio(strategy string) (float64, bool)
}

// Allocator распределяет капитал по одновременно активным сигналам
//
// Все политики возвращают веса с суммой ≤ 1 и деградируют к равному
// делению при отсутствии статистики (холодный старт). Провайдер оценок
// опционален; его отсутствие деградирует ml_weighted до equal_weight.
type Allocator struct {
	policy string
	stats  StrategyStats
	scores signal.RiskScoreProvider
	log    *zap.Logger
}

func NewAllocator(policy string, stats StrategyStats, scores signal.RiskScoreProvider, log *zap.Logger) *Allocator {
	return &Allocator{policy: policy, stats: stats, scores: scores, log: log}
}

// Allocate возвращает капитал i-го сигнала (срез выровнен со входом).
// Позиционная адресация нужна, чтобы одинаковые сигналы одного шага
// получали раздельные бюджеты, а не делили один.
func (a *Allocator) Allocate(signals []models.Signal, capital decimal.Decimal) []decimal.Decimal {
	weights := a.Weights(signals)
	out := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		out[i] = capital.Mul(decimal.NewFromFloat(w))
	}
	return out
}

// Weights вычисляет вес каждого сигнала согласно политике
func (a *Allocator) Weights(signals []models.Signal) []float64 {
	if len(signals) == 0 {
		return nil
	}

	raw := make([]float64, len(signals))
	equal := 1.0 / float64(len(signals))

	for i, sig := range signals {
		switch a.policy {
		case config.PolicyRiskParity:
			raw[i] = a.riskParityWeight(sig, equal)
		case config.PolicyKelly:
			raw[i] = a.kellyWeight(sig, equal)
		case config.PolicyMLWeighted:
			raw[i] = a.mlWeight(sig, equal)
		default:
			raw[i] = equal
		}
	}

	// risk_parity нормализуется к полной сумме 1: капитал распределяется
	// целиком, обратно пропорционально волатильности
	if a.policy == config.PolicyRiskParity {
		total := 0.0
		for _, w := range raw {
			total += w
		}
		if total > 0 {
			for i, w := range raw {
				raw[i] = w / total
			}
		}
	}

	return utils.NormalizeWeights(raw)
}

// riskParityWeight: вес обратно пропорционален трейлинг-волатильности
func (a *Allocator) riskParityWeight(sig models.Signal, equal float64) float64 {
	vol, ok := a.stats.Volatility(sig.StrategyID)
	if !ok || vol <= 0 {
		return equal
	}
	return 1.0 / vol
}

// kellyWeight: f = clamp((p*b - (1-p)) / b, 0, 0.25)
func (a *Allocator) kellyWeight(sig models.Signal, equal float64) float64 {
	p, okP := a.stats.WinRate(sig.StrategyID)
	b, okB := a.stats.PayoffRatio(sig.StrategyID)
	if !okP || !okB || b <= 0 {
		return equal
	}
	f := (p*b - (1 - p)) / b
	if f < 0 {
		return 0
	}
	if f > kellyCap {
		return kellyCap
	}
	return f
}

// mlWeight: вес пропорционален внешней оценке уверенности.
// Без провайдера и без Confidence сигнал ведёт себя как при equal_weight.
func (a *Allocator) mlWeight(sig models.Signal, equal float64) float64 {
	if a.scores != nil {
		if s, ok := a.scores.Score(sig); ok {
			return s
		}
	}
	if sig.Confidence != nil {
		return *sig.Confidence
	}
	return equal
}
