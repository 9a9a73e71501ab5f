package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position представляет нетто-позицию по символу внутри саб-леджера стратегии
//
// Владелец - PositionLedger. Количество и средняя цена мутируют только
// при исполнениях (неттинг), позиция удаляется при возврате количества к нулю,
// поэтому AveragePrice всегда определена, пока позиция существует.
type Position struct {
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`

	// SignedQuantity: положительное = лонг, отрицательное = шорт
	SignedQuantity int64 `json:"signed_quantity"`

	AveragePrice decimal.Decimal `json:"average_price"`
	RealizedPnl  decimal.Decimal `json:"realized_pnl"` // накопленный за жизнь позиции, за вычетом комиссий
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	CurrentPrice decimal.Decimal `json:"current_price"`

	// Защитные уровни для StopMonitor (nil = не задан)
	StopPrice   *decimal.Decimal `json:"stop_price,omitempty"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty"`

	// EntryMargin - маржа, зарезервированная под позицию при входе
	EntryMargin decimal.Decimal `json:"entry_margin"`

	// OpenedAt используется StopMonitor'ом для детерминированного порядка
	// обхода (oldest first) внутри символа
	OpenedAt time.Time `json:"opened_at"`
}

// IsLong возвращает true для лонга
func (p *Position) IsLong() bool {
	return p.SignedQuantity > 0
}

// IsShort возвращает true для шорта
func (p *Position) IsShort() bool {
	return p.SignedQuantity < 0
}

// AbsQuantity возвращает модуль количества
func (p *Position) AbsQuantity() int64 {
	if p.SignedQuantity < 0 {
		return -p.SignedQuantity
	}
	return p.SignedQuantity
}

// MarketValue возвращает рыночную стоимость позиции по цене price
// (отрицательную для шорта)
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.SignedQuantity))
}

// UnrealizedAt пересчитывает нереализованный PNL по цене price.
// Всегда считается заново от средней цены, не хранится как бегущая дельта -
// это исключает накопление ошибки.
func (p *Position) UnrealizedAt(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AveragePrice).Mul(decimal.NewFromInt(p.SignedQuantity))
}
