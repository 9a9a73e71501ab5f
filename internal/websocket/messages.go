package websocket

import (
	"time"

	"papertrade/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeNotification - событие движка
	// Отправляется при FILL, REJECT, STOP_LOSS, TARGET, SQUARE_OFF,
	// REBALANCE, STRATEGY_HALT, DATA_STALE, ENGINE_STOP
	MessageTypeNotification MessageType = "notification"

	// MessageTypeSnapshot - снимок портфеля
	// Отправляется после каждого шага движка
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeTrade - исполненная сделка
	MessageTypeTrade MessageType = "trade"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// NotificationMessage - сообщение о событии движка
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// SnapshotMessage - сообщение со снимком портфеля
//
// Содержит полный капитал, кэш и разбивку рыночной стоимости
// позиций по стратегиям. Decimal поля сериализуются строками.
type SnapshotMessage struct {
	BaseMessage
	Data models.PortfolioSnapshot `json:"data"`
}

// TradeMessage - сообщение об исполненной сделке
type TradeMessage struct {
	BaseMessage
	Data models.Trade `json:"data"`
}

// NewNotificationMessage создает сообщение события
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: notif,
	}
}

// NewSnapshotMessage создает сообщение снимка портфеля
func NewSnapshotMessage(snap models.PortfolioSnapshot) *SnapshotMessage {
	return &SnapshotMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSnapshot,
			Timestamp: time.Now(),
		},
		Data: snap,
	}
}

// NewTradeMessage создает сообщение сделки
func NewTradeMessage(trade models.Trade) *TradeMessage {
	return &TradeMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeTrade,
			Timestamp: time.Now(),
		},
		Data: trade,
	}
}
