package models

import "github.com/shopspring/decimal"

// StrategyAllocation представляет капитал, выделенный стратегии
//
// Владельцы - AllocationEngine и Rebalancer. Мутирует на каждом ребалансе
// и на каждом исполнении, меняющем занятый капитал.
type StrategyAllocation struct {
	StrategyName string  `json:"strategy_name"`
	TargetWeight float64 `json:"target_weight"`

	// Cash - свободные денежные средства стратегии. Уменьшается на номинал
	// покупки и комиссию, растёт при продаже; реализованный PNL попадает
	// сюда автоматически.
	Cash decimal.Decimal `json:"cash"`

	// UsedMargin - маржа, зарезервированная под открытые позиции
	UsedMargin decimal.Decimal `json:"used_margin"`

	OpenPositionCount int `json:"open_position_count"`
	MaxPositions      int `json:"max_positions"`

	// Halted: саб-леджер стратегии остановлен из-за нарушения инварианта.
	// Остальные стратегии продолжают работу.
	Halted     bool   `json:"halted"`
	HaltReason string `json:"halt_reason,omitempty"`
}

// AllocationView - неизменяемый срез аллокации для чистой валидации ордера
type AllocationView struct {
	Strategy        string
	AvailableMargin decimal.Decimal // equity - used margin
	OpenPositions   int
	MaxPositions    int
	Halted          bool
}
