package handlers

import (
	"net/http"

	"accountsync/internal/engine"
	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

// RiskHandler отвечает за Risk Gate счёта
//
// Endpoints:
// - GET /api/v1/accounts/{id}/risk/parameters     - текущие параметры
// - PATCH /api/v1/accounts/{id}/risk/parameters   - частичное обновление
// - POST /api/v1/accounts/{id}/risk/assess        - оценка без исполнения
// - GET /api/v1/accounts/{id}/risk/position-size  - оптимальный объём
// - GET /api/v1/accounts/{id}/risk/metrics        - метрики портфеля
// - GET /api/v1/accounts/{id}/risk/alerts         - журнал алертов
type RiskHandler struct {
	registry *engine.Registry
}

// NewRiskHandler создает RiskHandler
func NewRiskHandler(registry *engine.Registry) *RiskHandler {
	return &RiskHandler{registry: registry}
}

// AssessRequest - сделка для оценки
type AssessRequest struct {
	Symbol string  `json:"symbol"`
	Volume float64 `json:"volume"`
}

// PositionSizeResponse - рекомендованный объём
type PositionSizeResponse struct {
	Symbol     string  `json:"symbol"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	Volume     float64 `json:"volume"`
}

// AlertsResponse - журнал алертов, новые первыми
type AlertsResponse struct {
	Alerts []models.RiskAlert `json:"alerts"`
	Total  int                `json:"total"`
}

// GetParameters возвращает параметры риска
// GET /api/v1/accounts/{id}/risk/parameters
func (h *RiskHandler) GetParameters(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, acc.RiskParameters())
}

// UpdateParameters накладывает частичное обновление параметров
// PATCH /api/v1/accounts/{id}/risk/parameters
//
// Request Body (все поля опциональны):
//
//	{
//	  "max_daily_loss": 300,
//	  "max_concurrent_trades": 3
//	}
//
// Response:
// - 200 OK: новые параметры
// - 400 Bad Request: значение вне диапазона (параметры не меняются)
func (h *RiskHandler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	var patch models.RiskParametersPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	params, err := acc.UpdateRiskParameters(r.Context(), patch)
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, params)
}

// Assess оценивает сделку без исполнения
// POST /api/v1/accounts/{id}/risk/assess
func (h *RiskHandler) Assess(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	var req AssessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := utils.ValidateSymbol(req.Symbol); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "Validation failed", err.Error())
		return
	}
	if err := utils.ValidateVolume(req.Volume); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "Validation failed", err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, acc.Assess(utils.NormalizeSymbol(req.Symbol), req.Volume))
}

// PositionSize считает объём по риску на сделку
// GET /api/v1/accounts/{id}/risk/position-size?symbol=EURUSD&entry=1.1&stop_loss=1.095
func (h *RiskHandler) PositionSize(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if err := utils.ValidateSymbol(symbol); err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "Validation failed", err.Error())
		return
	}
	entry, err := parseFloatParam(r, "entry")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "Validation failed", err.Error())
		return
	}
	stop, err := parseFloatParam(r, "stop_loss")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "validation_error", "Validation failed", err.Error())
		return
	}

	symbol = utils.NormalizeSymbol(symbol)
	respondWithJSON(w, http.StatusOK, PositionSizeResponse{
		Symbol:     symbol,
		EntryPrice: entry,
		StopLoss:   stop,
		Volume:     acc.OptimalPositionSize(symbol, entry, stop),
	})
}

// GetMetrics возвращает метрики портфеля
// GET /api/v1/accounts/{id}/risk/metrics
func (h *RiskHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, acc.Metrics())
}

// GetAlerts возвращает журнал алертов
// GET /api/v1/accounts/{id}/risk/alerts
func (h *RiskHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}
	alerts := acc.Alerts()
	if alerts == nil {
		alerts = []models.RiskAlert{}
	}
	respondWithJSON(w, http.StatusOK, AlertsResponse{Alerts: alerts, Total: len(alerts)})
}
