package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade представляет запись об исполнении ордера
//
// Неизменяема после создания, append-only журнал.
// Создаётся ExecutionSimulator'ом: ровно один Trade на каждый EXECUTED ордер.
type Trade struct {
	ID       string `json:"id" db:"id"`
	OrderID  string `json:"order_id" db:"order_id"`
	Strategy string `json:"strategy" db:"strategy"`
	Symbol   string `json:"symbol" db:"symbol"`
	Side     string `json:"side" db:"side"`
	Quantity int64  `json:"quantity" db:"quantity"`

	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`

	// RealizedPnlDelta - реализованный PNL этого исполнения БЕЗ учёта комиссии
	// (ненулевой только при закрытии/сокращении/перевороте позиции).
	// Комиссия учитывается отдельным полем и всегда вычитается из капитала.
	RealizedPnlDelta decimal.Decimal `json:"realized_pnl_delta" db:"realized_pnl_delta"`
	Commission       decimal.Decimal `json:"commission" db:"commission"`
}

// NewTradeID генерирует уникальный идентификатор сделки
func NewTradeID() string {
	return uuid.NewString()
}

// Notional возвращает номинал сделки (цена × количество)
func (t *Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
