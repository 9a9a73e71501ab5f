package models

import "time"

// Notification представляет уведомление о событии движка
type Notification struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`     // FILL, REJECT, STOP_LOSS, TARGET, ...
	Severity  string                 `json:"severity"` // info, warn, error
	Strategy  string                 `json:"strategy,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"` // дополнительные данные
}

// Типы уведомлений
const (
	NotificationTypeFill         = "FILL"          // исполнение ордера
	NotificationTypeReject       = "REJECT"        // отклонение валидатором
	NotificationTypeStopLoss     = "STOP_LOSS"     // срабатывание стоп-лосса
	NotificationTypeTarget       = "TARGET"        // достижение цели
	NotificationTypeSquareOff    = "SQUARE_OFF"    // принудительное закрытие по времени
	NotificationTypeRebalance    = "REBALANCE"     // ребаланс аллокаций
	NotificationTypeStrategyHalt = "STRATEGY_HALT" // остановка стратегии (инвариант)
	NotificationTypeDataStale    = "DATA_STALE"    // устаревшие данные фида
	NotificationTypeEngineStop   = "ENGINE_STOP"   // остановка движка
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
