package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal представляет торговое намерение стратегии
//
// Опциональные способности сигнала (защитный стоп, цель, уверенность модели)
// выражены явными указателями, а не открытой картой: аллокация и стоп-логика
// проверяют наличие способности на этапе компиляции.
type Signal struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"` // BUY, SELL

	// Quantity > 0 - явный размер; 0 - размер определяет AllocationEngine
	Quantity int64 `json:"quantity,omitempty"`

	// Confidence - внешняя оценка уверенности [0..1] для политики ml_weighted
	Confidence *float64 `json:"confidence,omitempty"`

	// Предложенные стратегией защитные уровни
	SuggestedStop   *decimal.Decimal `json:"suggested_stop,omitempty"`
	SuggestedTarget *decimal.Decimal `json:"suggested_target,omitempty"`

	// At - модельное время сигнала внутри исторического окна
	At time.Time `json:"at"`
}

// Key возвращает стабильный идентификатор сигнала внутри одного шага
// (используется как ключ результата AllocationEngine)
func (s Signal) Key() string {
	return s.StrategyID + "/" + s.Symbol + "/" + s.Side
}
