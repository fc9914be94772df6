package risk

import (
	"sync"

	"accountsync/internal/models"
)

// AlertLogCapacity - сколько последних алертов хранится
const AlertLogCapacity = 50

// AlertLog - кольцевой буфер алертов фиксированной ёмкости.
// Старые записи вытесняются новыми.
type AlertLog struct {
	mu    sync.RWMutex
	buf   []models.RiskAlert
	next  int // позиция следующей записи
	count int
}

// NewAlertLog создаёт буфер (capacity <= 0 - AlertLogCapacity)
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = AlertLogCapacity
	}
	return &AlertLog{buf: make([]models.RiskAlert, capacity)}
}

// Add добавляет алерт
func (l *AlertLog) Add(alert models.RiskAlert) {
	l.mu.Lock()
	l.buf[l.next] = alert
	l.next = (l.next + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// List возвращает копию алертов, новые первыми
func (l *AlertLog) List() []models.RiskAlert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.RiskAlert, 0, l.count)
	for i := 1; i <= l.count; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Len возвращает число хранимых алертов
func (l *AlertLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
