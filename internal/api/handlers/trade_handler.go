package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"accountsync/internal/engine"
	"accountsync/pkg/utils"
)

// TradeHandler отвечает за сделки через Risk Gate
//
// Endpoints:
// - POST /api/v1/accounts/{id}/trades            - оценка и исполнение сделки
// - DELETE /api/v1/accounts/{id}/trades/{ticket} - закрытие позиции
type TradeHandler struct {
	registry *engine.Registry
}

// NewTradeHandler создает TradeHandler
func NewTradeHandler(registry *engine.Registry) *TradeHandler {
	return &TradeHandler{registry: registry}
}

// PlaceTradeRequest - параметры сделки
type PlaceTradeRequest struct {
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"` // long | short
	Volume     float64  `json:"volume"`
	Price      *float64 `json:"price,omitempty"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// PlaceTrade оценивает сделку и исполняет её при одобрении
// POST /api/v1/accounts/{id}/trades
//
// Request Body:
//
//	{
//	  "symbol": "EURUSD",
//	  "side": "long",
//	  "volume": 0.1,
//	  "stop_loss": 1.095
//	}
//
// Response:
// - 201 Created: сделка исполнена (position в ответе)
// - 200 OK: Risk Gate отказал (assessment.approved = false, position отсутствует)
// - 400 Bad Request: невалидные параметры
// - 409 Conflict: счёт не подключен
// - 502 Bad Gateway: мост не ответил
func (h *TradeHandler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	var req PlaceTradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := acc.PlaceTrade(r.Context(), engine.TradeRequest{
		Symbol:     utils.NormalizeSymbol(req.Symbol),
		Side:       req.Side,
		Volume:     req.Volume,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
	})
	if err != nil {
		handleEngineError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Position == nil {
		status = http.StatusOK
	}
	respondWithJSON(w, status, result)
}

// CloseTrade закрывает позицию по тикету
// DELETE /api/v1/accounts/{id}/trades/{ticket}
//
// Response:
// - 200 OK: закрытая позиция
// - 404 Not Found: тикет неизвестен
func (h *TradeHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	ticket, err := strconv.ParseInt(mux.Vars(r)["ticket"], 10, 64)
	if err != nil || ticket <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_ticket", "Invalid ticket", "ticket must be a positive number")
		return
	}

	pos, err := acc.CloseTrade(r.Context(), ticket)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pos)
}
