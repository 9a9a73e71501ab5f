package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot - снимок портфеля на один шаг модельного времени
//
// Append-only последовательность снимков образует кривую капитала.
// Инвариант: TotalEquity == Cash + Σ StrategyBreakdown.
type PortfolioSnapshot struct {
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	TotalEquity decimal.Decimal `json:"total_equity" db:"total_equity"`
	Cash        decimal.Decimal `json:"cash" db:"cash"`

	// StrategyBreakdown: стратегия → рыночная стоимость её позиций
	StrategyBreakdown map[string]decimal.Decimal `json:"strategy_breakdown" db:"strategy_breakdown"`
}

// Clone возвращает глубокую копию снимка
func (s PortfolioSnapshot) Clone() PortfolioSnapshot {
	out := s
	out.StrategyBreakdown = make(map[string]decimal.Decimal, len(s.StrategyBreakdown))
	for k, v := range s.StrategyBreakdown {
		out.StrategyBreakdown[k] = v
	}
	return out
}

// HaltedStrategy - стратегия, остановленная по ходу прогона
type HaltedStrategy struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// ForcedClose - позиция, принудительно закрытая при остановке движка
type ForcedClose struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Reason   string          `json:"reason"` // ENGINE_STOP
}

// PerformanceSummary - итоговый отчёт по прогону
//
// Опциональные коэффициенты равны nil, если их вычисление не определено
// (например, нулевая волатильность) - вместо паники или NaN.
type PerformanceSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	InitialEquity decimal.Decimal `json:"initial_equity"`
	FinalEquity   decimal.Decimal `json:"final_equity"`

	TotalReturn      float64  `json:"total_return"`
	AnnualizedReturn float64  `json:"annualized_return"`
	Volatility       float64  `json:"volatility"`
	SharpeRatio      *float64 `json:"sharpe_ratio,omitempty"`
	SortinoRatio     *float64 `json:"sortino_ratio,omitempty"`
	CalmarRatio      *float64 `json:"calmar_ratio,omitempty"`

	MaxDrawdown         float64       `json:"max_drawdown"`
	MaxDrawdownDuration time.Duration `json:"max_drawdown_duration"`

	// Попарная корреляция дневных PNL стратегий.
	// Strategies задаёт порядок строк/столбцов матрицы.
	Strategies  []string    `json:"strategies"`
	Correlation [][]float64 `json:"correlation"`

	TradeCount       int              `json:"trade_count"`
	HaltedStrategies []HaltedStrategy `json:"halted_strategies,omitempty"`
	ForcedCloses     []ForcedClose    `json:"forced_closes,omitempty"`
}
