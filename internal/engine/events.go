package engine

import (
	"time"

	"accountsync/internal/models"
)

// EventBus - буферизованный канал событий движка.
// Публикация не блокирует: при переполнении событие теряется и учитывается в метриках.
type EventBus struct {
	ch chan models.Event
}

// NewEventBus создаёт шину с буфером size
func NewEventBus(size int) *EventBus {
	if size <= 0 {
		size = 256
	}
	return &EventBus{ch: make(chan models.Event, size)}
}

// Events возвращает канал для потребителя (WebSocket hub)
func (b *EventBus) Events() <-chan models.Event {
	return b.ch
}

// Publish отправляет событие. Возвращает false если буфер заполнен.
func (b *EventBus) Publish(ev models.Event) bool {
	if b == nil {
		return false
	}

	select {
	case b.ch <- ev:
		return true
	default:
		RecordBufferOverflow("events")
		return false
	}
}

func (b *EventBus) emit(eventType, accountID string, at time.Time, data interface{}) {
	b.Publish(models.Event{
		Type:      eventType,
		AccountID: accountID,
		Timestamp: at,
		Data:      data,
	})
}
