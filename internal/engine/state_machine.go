package engine

import "accountsync/internal/models"

// ValidTransitions определяет допустимые переходы между состояниями подключения
var ValidTransitions = map[string][]string{
	models.StateOffline:     {models.StateConnecting},
	models.StateConnecting:  {models.StateOnline, models.StateSimulated, models.StateOffline},
	models.StateOnline:      {models.StateReconciling, models.StateSimulated, models.StateOffline},
	models.StateSimulated:   {models.StateReconciling, models.StateOnline, models.StateOffline},
	models.StateReconciling: {models.StateOnline, models.StateSimulated, models.StateOffline},
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
	case models.StateOffline:
		return "Нет подключения к терминалу"
	case models.StateConnecting:
		return "Подключение к терминалу..."
	case models.StateOnline:
		return "Терминал подключён"
	case models.StateSimulated:
		return "Мост недоступен, данные симулируются"
	case models.StateReconciling:
		return "Синхронизация данных счёта..."
	default:
		return "Неизвестное состояние"
	}
}

// CanPlaceRealOrders возвращает true если ордера уходят в реальный терминал
func CanPlaceRealOrders(s string) bool {
	return s == models.StateOnline
}

// IsConnected возвращает true если счёт обслуживается (реально или в симуляции)
func IsConnected(s string) bool {
	return s == models.StateOnline || s == models.StateSimulated || s == models.StateReconciling
}
