package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"accountsync/internal/bridge"
	"accountsync/internal/engine"
	"accountsync/internal/models"
	"accountsync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// SyncLogReader читает журнал синхронизации (repository.SyncLogRepository)
type SyncLogReader interface {
	ListSyncLogs(ctx context.Context, accountID string, limit int) ([]*models.SyncLogEntry, error)
}

// ClosedPositionReader читает историю закрытых позиций (repository.PositionRepository)
type ClosedPositionReader interface {
	ListClosedPositions(ctx context.Context, accountID string, limit int) ([]*models.Position, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			utils.L().Warn("encode response failed", utils.Err(err))
		}
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// decodeJSON разбирает тело запроса, при ошибке отвечает 400
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return false
	}
	return true
}

// handleEngineError переводит ошибки движка в HTTP статусы
func handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "account_not_found", "Account not found", "")

	case errors.Is(err, engine.ErrPositionNotFound):
		respondWithError(w, http.StatusNotFound, "position_not_found", "Position not found", "")

	case errors.Is(err, engine.ErrAuthRejected):
		respondWithError(w, http.StatusUnauthorized, "auth_rejected", "Terminal rejected the credentials", err.Error())

	case errors.Is(err, engine.ErrNotConnected):
		respondWithError(w, http.StatusConflict, "not_connected", "Account is not connected", "")

	case errors.Is(err, engine.ErrAlreadyConnected):
		respondWithError(w, http.StatusConflict, "already_connected", "Account is already connected", "")

	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrResultDiscarded):
		respondWithError(w, http.StatusConflict, "state_changed", "Account state changed during the request", err.Error())

	case errors.Is(err, engine.ErrPollInFlight):
		respondWithError(w, http.StatusConflict, "poll_in_flight", "A synchronization is already running", "")

	case errors.Is(err, engine.ErrApprovalStale):
		respondWithError(w, http.StatusConflict, "approval_stale", "Account state kept changing, retry the trade", "")

	case errors.Is(err, engine.ErrTicketExhausted):
		respondWithError(w, http.StatusConflict, "ticket_exhausted", "No free simulated ticket, retry the trade", "")

	case errors.Is(err, engine.ErrInvalidTrade),
		errors.Is(err, engine.ErrInvalidRiskParameters),
		errors.Is(err, engine.ErrInvalidCredentials):
		respondWithError(w, http.StatusBadRequest, "validation_error", "Validation failed", err.Error())

	case errors.Is(err, bridge.ErrRejected):
		respondWithError(w, http.StatusUnprocessableEntity, "bridge_rejected", "Terminal refused the operation", err.Error())

	case bridge.IsUnavailable(err),
		errors.Is(err, bridge.ErrNetworkUnavailable),
		errors.Is(err, bridge.ErrMalformedResponse):
		respondWithError(w, http.StatusBadGateway, "bridge_unavailable", "Bridge request failed", err.Error())

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}

// NotFound отвечает 404 в формате ErrorResponse
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusNotFound, "not_found", "Route not found", r.URL.Path)
}

// MethodNotAllowed отвечает 405 в формате ErrorResponse
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", r.Method+" "+r.URL.Path)
}

// accountFrom находит счёт по {id} из пути; при ошибке отвечает сам
func accountFrom(w http.ResponseWriter, r *http.Request, registry *engine.Registry) (*engine.Account, bool) {
	acc, err := registry.Get(mux.Vars(r)["id"])
	if err != nil {
		handleEngineError(w, err)
		return nil, false
	}
	return acc, true
}

// parseLimit читает ?limit= (по умолчанию 50, максимум 500)
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

// parseFloatParam читает обязательный числовой query-параметр
func parseFloatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.New(name + " is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New(name + " must be a number")
	}
	return v, nil
}
