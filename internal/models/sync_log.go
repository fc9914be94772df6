package models

import (
	"encoding/json"
	"time"
)

// Исход цикла синхронизации
const (
	SyncOutcomeSuccess = "success"
	SyncOutcomeFailed  = "failed"
	SyncOutcomePartial = "partial" // слияние прошло, запись в ledger - нет
)

// Источник цикла синхронизации
const (
	SyncSourceConnect = "connect"
	SyncSourcePoll    = "poll"
	SyncSourcePush    = "push"
)

// SyncLogEntry - запись журнала синхронизации. Только добавление, без изменений.
type SyncLogEntry struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Outcome    string          `json:"outcome" db:"sync_status"`
	Source     string          `json:"source" db:"source"`
	Simulated  bool            `json:"simulated" db:"is_simulated"`
	DurationMs int64           `json:"duration_ms" db:"sync_duration_ms"`
	Error      string          `json:"error,omitempty" db:"error_message"`
	Payload    json.RawMessage `json:"payload,omitempty" db:"sync_data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
