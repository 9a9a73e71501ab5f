package engine

import (
	"github.com/shopspring/decimal"

	"papertrade/internal/models"
)

// Decision - результат валидации ордера.
// Отклонение - не ошибка: вызывающий продолжает работу без повтора.
type Decision struct {
	Accepted bool
	Reason   string // причина отклонения, пустая при Accepted
}

func accepted() Decision {
	return Decision{Accepted: true}
}

func rejected(reason string) Decision {
	return Decision{Reason: reason}
}

// ValidateOrder проверяет ордер против правил маржи и лимита позиций.
//
// Чистая функция без побочных эффектов. Порядок проверок фиксирован,
// причину отклонения определяет первая непройденная:
//  1. количество > 0
//  2. требуемая маржа (номинал × ставка) ≤ доступной марже стратегии
//  3. число открытых позиций стратегии < max_positions (только для
//     ордеров, открывающих новую позицию)
//
// ReduceOnly ордера не увеличивают экспозицию, поэтому проверки 2 и 3
// к ним не применяются.
func ValidateOrder(o *models.Order, view models.AllocationView, price decimal.Decimal, marginRate decimal.Decimal, opensNew bool) Decision {
	if view.Halted {
		return rejected(models.RejectStrategyHalted)
	}

	if o.Quantity <= 0 {
		return rejected(models.RejectInvalidQuantity)
	}

	if o.ReduceOnly {
		return accepted()
	}

	notional := price.Mul(decimal.NewFromInt(o.Quantity))
	required := notional.Mul(marginRate)
	if required.GreaterThan(view.AvailableMargin) {
		return rejected(models.RejectInsufficientMargin)
	}

	if opensNew && view.OpenPositions >= view.MaxPositions {
		return rejected(models.RejectPositionLimit)
	}

	return accepted()
}
