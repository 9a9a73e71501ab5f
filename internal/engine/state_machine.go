package engine

import "papertrade/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями ордера
var ValidTransitions = map[string][]string{
	models.OrderStatePending: {models.OrderStateOpen, models.OrderStateRejected},
	models.OrderStateOpen:    {models.OrderStateExecuted, models.OrderStateCancelled, models.OrderStateRejected},
	// EXECUTED, CANCELLED, REJECTED - терминальные
	models.OrderStateExecuted:  {},
	models.OrderStateCancelled: {},
	models.OrderStateRejected:  {},
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.OrderStatePending:
		return "Ордер принят, ожидает валидации"
	case models.OrderStateOpen:
		return "Ордер прошёл валидацию, ожидает исполнения"
	case models.OrderStateExecuted:
		return "Ордер исполнен"
	case models.OrderStateCancelled:
		return "Ордер отменён"
	case models.OrderStateRejected:
		return "Ордер отклонён"
	default:
		return "Неизвестное состояние"
	}
}
