package models

import "time"

// Имена полей снимка счёта для last-write-wins слияния
const (
	FieldIdentity    = "identity"
	FieldBalance     = "balance"
	FieldEquity      = "equity"
	FieldMargin      = "margin"
	FieldFreeMargin  = "free_margin"
	FieldMarginLevel = "margin_level"
	FieldLeverage    = "leverage"
)

// AccountSnapshot - авторитетное состояние счёта на момент последней сверки.
// Изменяется только функцией слияния Reconciler'а.
type AccountSnapshot struct {
	AccountID      string    `json:"account_id" db:"account_id"`
	AccountNumber  int64     `json:"account_number" db:"account_number"`
	Server         string    `json:"server" db:"server"`
	Name           string    `json:"name,omitempty" db:"name"`
	Company        string    `json:"company,omitempty" db:"company"`
	Currency       string    `json:"currency" db:"currency"`
	Balance        float64   `json:"balance" db:"balance"`
	Equity         float64   `json:"equity" db:"equity"`
	Margin         float64   `json:"margin" db:"margin"`
	FreeMargin     float64   `json:"free_margin" db:"free_margin"`
	MarginLevel    float64   `json:"margin_level" db:"margin_level"`
	Leverage       int       `json:"leverage" db:"leverage"`
	FloatingProfit float64   `json:"floating_profit"` // equity - balance
	Simulated      bool      `json:"simulated" db:"is_simulated"`
	LastSync       time.Time `json:"last_sync" db:"last_sync"`

	// FieldTimes - метка времени последнего применённого значения каждого поля
	FieldTimes map[string]time.Time `json:"-"`
}

// Clone возвращает независимую копию снимка
func (s *AccountSnapshot) Clone() *AccountSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.FieldTimes = make(map[string]time.Time, len(s.FieldTimes))
	for k, v := range s.FieldTimes {
		c.FieldTimes[k] = v
	}
	return &c
}

// RecalculateFloating пересчитывает производное поле плавающей прибыли
func (s *AccountSnapshot) RecalculateFloating() {
	s.FloatingProfit = s.Equity - s.Balance
}

// AccountIdentity - идентификационные поля счёта из ответа /connect
type AccountIdentity struct {
	AccountNumber int64  `json:"account_number,omitempty"`
	Server        string `json:"server,omitempty"`
	Name          string `json:"name,omitempty"`
	Company       string `json:"company,omitempty"`
	Currency      string `json:"currency,omitempty"`
}

// AccountUpdate - внешний пакет данных (poll, push или симуляция),
// поступающий на вход функции слияния. nil-поля означают "нет данных".
type AccountUpdate struct {
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	Simulated bool      `json:"simulated"`

	Identity    *AccountIdentity `json:"identity,omitempty"`
	Balance     *float64         `json:"balance,omitempty"`
	Equity      *float64         `json:"equity,omitempty"`
	Margin      *float64         `json:"margin,omitempty"`
	FreeMargin  *float64         `json:"free_margin,omitempty"`
	MarginLevel *float64         `json:"margin_level,omitempty"`
	Leverage    *int             `json:"leverage,omitempty"`

	Positions []PositionUpdate `json:"positions,omitempty"`
}

// Float возвращает указатель на значение (для сборки AccountUpdate)
func Float(v float64) *float64 {
	return &v
}

// Int возвращает указатель на значение
func Int(v int) *int {
	return &v
}
