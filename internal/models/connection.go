package models

// Состояния подключения к мосту (владелец - Supervisor)
const (
	StateOffline     = "OFFLINE"     // начальное состояние, нет подключения
	StateConnecting  = "CONNECTING"  // идёт подключение к мосту
	StateOnline      = "ONLINE"      // мост доступен, авторизация пройдена
	StateSimulated   = "SIMULATED"   // мост недоступен, работает локальная симуляция
	StateReconciling = "RECONCILING" // временное состояние на время слияния данных
)

// Credentials содержит данные для входа в торговый терминал через мост
type Credentials struct {
	AccountID     string `json:"account_id"`
	Server        string `json:"server"`
	AccountNumber int64  `json:"account_number"`
	Password      string `json:"-"` // никогда не отдаётся наружу
}
