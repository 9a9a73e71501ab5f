package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order представляет симулируемый ордер
//
// Жизненный цикл состояния принадлежит исключительно ExecutionSimulator:
// PENDING → OPEN → {EXECUTED, CANCELLED, REJECTED}
// Ордер создаётся StrategyRunner'ом, Rebalancer'ом или StopMonitor'ом
// и архивируется после перехода в терминальное состояние.
type Order struct {
	ID       string `json:"id" db:"id"`
	Strategy string `json:"strategy" db:"strategy"`
	Symbol   string `json:"symbol" db:"symbol"`
	Side     string `json:"side" db:"side"` // BUY, SELL
	Quantity int64  `json:"quantity" db:"quantity"`
	Kind     string `json:"kind" db:"kind"` // MARKET, LIMIT, STOP, STOP_MARKET

	// Цены для условных ордеров (nil если не применимо)
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty" db:"limit_price"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty" db:"stop_price"`

	// Защитные уровни будущей позиции (из сигнала стратегии).
	// Переносятся в Position при открытии, используются StopMonitor'ом.
	ProtectiveStop   *decimal.Decimal `json:"protective_stop,omitempty" db:"protective_stop"`
	ProtectiveTarget *decimal.Decimal `json:"protective_target,omitempty" db:"protective_target"`

	// ReduceOnly помечает закрывающий ордер: он не увеличивает экспозицию,
	// поэтому проверки маржи и лимита позиций к нему не применяются
	ReduceOnly bool `json:"reduce_only" db:"reduce_only"`

	// Reason - причина создания ордера (SIGNAL, STOP_LOSS, TARGET, SQUARE_OFF, REBALANCE, ENGINE_STOP)
	Reason string `json:"reason" db:"reason"`

	State           string           `json:"state" db:"state"`
	SubmittedAt     time.Time        `json:"submitted_at" db:"submitted_at"`
	ExecutedPrice   *decimal.Decimal `json:"executed_price,omitempty" db:"executed_price"`
	ExecutedAt      *time.Time       `json:"executed_at,omitempty" db:"executed_at"`
	RejectionReason string           `json:"rejection_reason,omitempty" db:"rejection_reason"`
}

// Состояния ордера (state machine)
const (
	OrderStatePending   = "PENDING"   // принят, ожидает исполнения (задержка/условие)
	OrderStateOpen      = "OPEN"      // условный ордер ожидает пересечения цены
	OrderStateExecuted  = "EXECUTED"  // исполнен, создан ровно один Trade
	OrderStateCancelled = "CANCELLED" // отменён до исполнения
	OrderStateRejected  = "REJECTED"  // отклонён валидатором
)

// Стороны ордера
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Типы ордера
const (
	OrderKindMarket     = "MARKET"
	OrderKindLimit      = "LIMIT"
	OrderKindStop       = "STOP"
	OrderKindStopMarket = "STOP_MARKET"
)

// Причины отклонения (порядок проверок в OrderValidator)
const (
	RejectInvalidQuantity    = "INVALID_QUANTITY"
	RejectInsufficientMargin = "INSUFFICIENT_MARGIN"
	RejectPositionLimit      = "POSITION_LIMIT"
	RejectStrategyHalted     = "STRATEGY_HALTED"
	RejectEngineStop         = "ENGINE_STOP"
)

// Причины создания ордера
const (
	OrderReasonSignal     = "SIGNAL"
	OrderReasonStopLoss   = "STOP_LOSS"
	OrderReasonTarget     = "TARGET"
	OrderReasonSquareOff  = "SQUARE_OFF"
	OrderReasonRebalance  = "REBALANCE"
	OrderReasonEngineStop = "ENGINE_STOP"
	OrderReasonManual     = "MANUAL"
)

// NewOrderID генерирует уникальный идентификатор ордера
func NewOrderID() string {
	return uuid.NewString()
}

// IsTerminal возвращает true для терминальных состояний
func (o *Order) IsTerminal() bool {
	return o.State == OrderStateExecuted ||
		o.State == OrderStateCancelled ||
		o.State == OrderStateRejected
}

// OppositeSide возвращает противоположную сторону (для закрывающих ордеров)
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}
