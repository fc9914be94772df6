package models

import "time"

// Типы событий движка
const (
	EventStateChanged    = "state_changed"
	EventSnapshotUpdated = "snapshot_updated"
	EventPositionClosed  = "position_closed"
	EventTradeExecuted   = "trade_executed"
	EventAlertRaised     = "alert_raised"
)

// Event - событие движка для внешних потребителей (WebSocket, уведомления).
// Ядро не вызывает UI напрямую, только публикует события.
type Event struct {
	Type      string      `json:"type"`
	AccountID string      `json:"account_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// StateChange - данные события state_changed
type StateChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// PushAccount - финансовые поля счёта во внешнем уведомлении
type PushAccount struct {
	Balance     *float64 `json:"balance,omitempty"`
	Equity      *float64 `json:"equity,omitempty"`
	Margin      *float64 `json:"margin,omitempty"`
	FreeMargin  *float64 `json:"free_margin,omitempty"`
	MarginLevel *float64 `json:"margin_level,omitempty"`
	Leverage    *int     `json:"leverage,omitempty"`
}

// PushEvent - внешнее уведомление об изменении счёта (ledger NOTIFY или API)
type PushEvent struct {
	AccountID string           `json:"account_id"`
	Timestamp time.Time        `json:"timestamp"`
	Account   *PushAccount     `json:"account,omitempty"`
	Positions []PositionUpdate `json:"positions,omitempty"`
}

// ToUpdate преобразует уведомление во вход функции слияния.
// Без метки времени используется момент получения.
func (e PushEvent) ToUpdate(received time.Time) AccountUpdate {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = received
	}

	upd := AccountUpdate{
		FetchedAt: ts,
		Source:    SyncSourcePush,
		Positions: e.Positions,
	}
	if e.Account != nil {
		upd.Balance = e.Account.Balance
		upd.Equity = e.Account.Equity
		upd.Margin = e.Account.Margin
		upd.FreeMargin = e.Account.FreeMargin
		upd.MarginLevel = e.Account.MarginLevel
		upd.Leverage = e.Account.Leverage
	}
	return upd
}
