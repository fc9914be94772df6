package bridge

import (
	"strings"
	"time"

	"accountsync/internal/models"
)

// ============================================================
// Формат сообщений моста (JSON)
// ============================================================

// Названия операций (используются в ошибках, метриках и span)
const (
	opConnect     = "connect"
	opAccountInfo = "account_info"
	opPositions   = "positions"
	opPlaceOrder  = "place_order"
	opCloseOrder  = "close_order"
	opStatus      = "status"
)

// Направление сделки в протоколе моста
const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

type connectRequest struct {
	Server        string `json:"server"`
	AccountNumber int64  `json:"account_number"`
	Password      string `json:"password"`
}

// AccountInfo - данные счёта из /connect и /account_info.
// /account_info возвращает только денежные поля.
type AccountInfo struct {
	Name        string   `json:"name"`
	Company     string   `json:"company"`
	Currency    string   `json:"currency"`
	Balance     *float64 `json:"balance"`
	Equity      *float64 `json:"equity"`
	Margin      *float64 `json:"margin"`
	FreeMargin  *float64 `json:"free_margin"`
	MarginLevel *float64 `json:"margin_level"`
	Leverage    *int     `json:"leverage"`
}

type accountInfoResponse struct {
	envelope
	AccountInfo *AccountInfo `json:"account_info"`
}

// PositionInfo - позиция в формате моста
type PositionInfo struct {
	Ticket       int64    `json:"ticket"`
	Symbol       string   `json:"symbol"`
	Type         string   `json:"type"` // BUY | SELL
	Volume       float64  `json:"volume"`
	PriceOpen    float64  `json:"price_open"`
	PriceCurrent *float64 `json:"price_current"`
	Profit       float64  `json:"profit"`
	Swap         float64  `json:"swap"`
	Commission   float64  `json:"commission"`
	Comment      string   `json:"comment"`
	Time         int64    `json:"time"` // unix секунды, 0 = неизвестно
}

type positionsResponse struct {
	envelope
	Positions []PositionInfo `json:"positions"`
}

// OrderRequest - запрос на открытие сделки
type OrderRequest struct {
	Symbol      string   `json:"symbol"`
	TradeType   string   `json:"trade_type"`
	Volume      float64  `json:"volume"`
	Price       *float64 `json:"price,omitempty"`
	StopLoss    *float64 `json:"stop_loss,omitempty"`
	TakeProfit  *float64 `json:"take_profit,omitempty"`
	Comment     string   `json:"comment"`
	MagicNumber int64    `json:"magic_number"`
}

// OrderResult - подтверждение открытия
type OrderResult struct {
	Ticket    int64   `json:"ticket"`
	OpenPrice float64 `json:"open_price"`
}

type placeOrderResponse struct {
	envelope
	TradeInfo *OrderResult `json:"trade_info"`
}

type closeOrderRequest struct {
	Ticket int64 `json:"ticket"`
}

// CloseResult - подтверждение закрытия
type CloseResult struct {
	ClosePrice float64 `json:"close_price"`
	Profit     float64 `json:"profit"`
}

type closeOrderResponse struct {
	envelope
	ClosePrice *float64 `json:"close_price"`
	Profit     *float64 `json:"profit"`
}

// Status - состояние моста и терминала
type Status struct {
	MT5Connected      bool `json:"mt5_connected"`
	AutoTradingActive bool `json:"auto_trading_active"`
}

type statusResponse struct {
	envelope
	Status
}

// ============================================================
// Преобразование в модели
// ============================================================

// ToUpdate превращает ответ моста в обновление для слияния
func ToUpdate(info *AccountInfo, positions []PositionInfo, fetchedAt time.Time, source string) models.AccountUpdate {
	upd := models.AccountUpdate{
		FetchedAt: fetchedAt,
		Source:    source,
	}

	if info != nil {
		if info.Name != "" || info.Company != "" || info.Currency != "" {
			upd.Identity = &models.AccountIdentity{
				Name:     info.Name,
				Company:  info.Company,
				Currency: info.Currency,
			}
		}
		upd.Balance = info.Balance
		upd.Equity = info.Equity
		upd.Margin = info.Margin
		upd.FreeMargin = info.FreeMargin
		upd.MarginLevel = info.MarginLevel
		upd.Leverage = info.Leverage
	}

	if positions != nil {
		upd.Positions = make([]models.PositionUpdate, 0, len(positions))
		for _, p := range positions {
			upd.Positions = append(upd.Positions, p.ToUpdate())
		}
	}

	return upd
}

// ToUpdate превращает позицию моста в обновление
func (p PositionInfo) ToUpdate() models.PositionUpdate {
	u := models.PositionUpdate{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Side:       SideFromTradeType(p.Type),
		Volume:     p.Volume,
		OpenPrice:  p.PriceOpen,
		Profit:     p.Profit,
		Swap:       p.Swap,
		Commission: p.Commission,
		Comment:    p.Comment,
		Status:     models.PositionStatusOpen,
	}
	if p.PriceCurrent != nil {
		u.CurrentPrice = *p.PriceCurrent
	}
	if p.Time > 0 {
		u.OpenTime = time.Unix(p.Time, 0).UTC()
	}
	return u
}

// SideFromTradeType переводит BUY/SELL в long/short
func SideFromTradeType(t string) string {
	if strings.EqualFold(t, TradeTypeSell) {
		return models.SideShort
	}
	return models.SideLong
}

// TradeTypeFromSide переводит long/short в BUY/SELL
func TradeTypeFromSide(side string) string {
	if side == models.SideShort {
		return TradeTypeSell
	}
	return TradeTypeBuy
}
