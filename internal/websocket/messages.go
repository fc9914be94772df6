package websocket

import (
	"time"

	"accountsync/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений (по одному на событие движка)
const (
	// MessageTypeStateChanged - переход состояния подключения счёта
	MessageTypeStateChanged MessageType = "stateChanged"

	// MessageTypeSnapshotUpdated - новый снимок счёта после сверки
	MessageTypeSnapshotUpdated MessageType = "snapshotUpdated"

	// MessageTypePositionClosed - позиция закрыта
	MessageTypePositionClosed MessageType = "positionClosed"

	// MessageTypeTradeExecuted - сделка исполнена (реально или в симуляции)
	MessageTypeTradeExecuted MessageType = "tradeExecuted"

	// MessageTypeAlert - риск-алерт
	MessageTypeAlert MessageType = "alert"
)

var eventMessageTypes = map[string]MessageType{
	models.EventStateChanged:    MessageTypeStateChanged,
	models.EventSnapshotUpdated: MessageTypeSnapshotUpdated,
	models.EventPositionClosed:  MessageTypePositionClosed,
	models.EventTradeExecuted:   MessageTypeTradeExecuted,
	models.EventAlertRaised:     MessageTypeAlert,
}

// MessageTypeFor возвращает тип сообщения для события движка.
// Неизвестные события передаются под своим именем.
func MessageTypeFor(eventType string) MessageType {
	if t, ok := eventMessageTypes[eventType]; ok {
		return t
	}
	return MessageType(eventType)
}

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - событие движка для дашборда
type EventMessage struct {
	BaseMessage
	AccountID string      `json:"account_id"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEventMessage создает сообщение из события движка.
// Время события сохраняется, пустое заменяется текущим.
func NewEventMessage(ev models.Event) *EventMessage {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &EventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeFor(ev.Type),
			Timestamp: ts,
		},
		AccountID: ev.AccountID,
		Data:      ev.Data,
	}
}
