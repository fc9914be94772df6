package models

import "time"

// Направление позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// Статус позиции
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Position - позиция счёта. Ключ - тикет (уникален в пределах счёта).
// Закрытая позиция - терминальное состояние.
type Position struct {
	AccountID    string     `json:"account_id" db:"account_id"`
	Ticket       int64      `json:"ticket" db:"ticket"`
	Symbol       string     `json:"symbol" db:"symbol"`
	Side         string     `json:"side" db:"side"` // long или short
	Volume       float64    `json:"volume" db:"volume"`
	OpenPrice    float64    `json:"open_price" db:"open_price"`
	CurrentPrice float64    `json:"current_price" db:"current_price"`
	StopLoss     float64    `json:"stop_loss,omitempty" db:"stop_loss"`
	TakeProfit   float64    `json:"take_profit,omitempty" db:"take_profit"`
	Profit       float64    `json:"profit" db:"profit"`
	Swap         float64    `json:"swap" db:"swap"`
	Commission   float64    `json:"commission" db:"commission"`
	Comment      string     `json:"comment,omitempty" db:"comment"`
	MagicNumber  int        `json:"magic_number,omitempty" db:"magic_number"`
	OpenTime     time.Time  `json:"open_time" db:"open_time"`
	ClosePrice   *float64   `json:"close_price,omitempty" db:"close_price"`
	CloseTime    *time.Time `json:"close_time,omitempty" db:"close_time"`
	Status       string     `json:"status" db:"status"`
	Simulated    bool       `json:"simulated" db:"is_simulated"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOpen возвращает true для открытой позиции
func (p *Position) IsOpen() bool {
	return p.Status != PositionStatusClosed
}

// Clone возвращает независимую копию позиции
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	if p.ClosePrice != nil {
		v := *p.ClosePrice
		c.ClosePrice = &v
	}
	if p.CloseTime != nil {
		v := *p.CloseTime
		c.CloseTime = &v
	}
	return &c
}

// PositionUpdate - состояние позиции во внешнем пакете данных
type PositionUpdate struct {
	Ticket       int64      `json:"ticket"`
	Symbol       string     `json:"symbol"`
	Side         string     `json:"side"`
	Volume       float64    `json:"volume"`
	OpenPrice    float64    `json:"open_price"`
	CurrentPrice float64    `json:"current_price"`
	StopLoss     float64    `json:"stop_loss,omitempty"`
	TakeProfit   float64    `json:"take_profit,omitempty"`
	Profit       float64    `json:"profit"`
	Swap         float64    `json:"swap"`
	Commission   float64    `json:"commission"`
	Comment      string     `json:"comment,omitempty"`
	MagicNumber  int        `json:"magic_number,omitempty"`
	OpenTime     time.Time  `json:"open_time"`
	Status       string     `json:"status,omitempty"` // пусто = open
	ClosePrice   *float64   `json:"close_price,omitempty"`
	CloseTime    *time.Time `json:"close_time,omitempty"`
}

// Closed возвращает true если обновление сообщает о закрытии позиции
func (u PositionUpdate) Closed() bool {
	return u.Status == PositionStatusClosed
}
