package handlers

import (
	"net/http"
	"time"

	"accountsync/internal/engine"
	"accountsync/internal/models"
)

// AccountHandler отвечает за подключение счетов и синхронизацию
//
// Endpoints:
// - GET /api/v1/accounts                    - список счетов
// - POST /api/v1/accounts/connect           - подключение к терминалу
// - GET /api/v1/accounts/{id}               - статус и снимок счёта
// - DELETE /api/v1/accounts/{id}/connect    - отключение
// - GET /api/v1/accounts/{id}/positions     - открытые (или закрытые) позиции
// - POST /api/v1/accounts/{id}/poll         - внеочередная сверка
// - POST /api/v1/accounts/{id}/push         - внешнее обновление (bulk sync)
// - GET /api/v1/accounts/{id}/sync-logs     - журнал синхронизации
type AccountHandler struct {
	registry *engine.Registry
	syncLogs SyncLogReader
	closed   ClosedPositionReader
}

// NewAccountHandler создает AccountHandler.
// syncLogs и closed могут быть nil - соответствующие списки будут пустыми.
func NewAccountHandler(registry *engine.Registry, syncLogs SyncLogReader, closed ClosedPositionReader) *AccountHandler {
	return &AccountHandler{
		registry: registry,
		syncLogs: syncLogs,
		closed:   closed,
	}
}

// ConnectRequest - данные входа в терминал
type ConnectRequest struct {
	AccountID     string `json:"account_id,omitempty"` // пусто = новый счёт
	Server        string `json:"server"`
	AccountNumber int64  `json:"account_number"`
	Password      string `json:"password"`
}

// PositionsResponse - список позиций счёта
type PositionsResponse struct {
	Positions []*models.Position `json:"positions"`
	Total     int                `json:"total"`
}

// SyncLogsResponse - страница журнала синхронизации
type SyncLogsResponse struct {
	Entries []*models.SyncLogEntry `json:"entries"`
	Total   int                    `json:"total"`
}

// ListAccounts возвращает статусы всех счетов
// GET /api/v1/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.registry.List()
	response := make([]engine.AccountStatus, 0, len(accounts))
	for _, acc := range accounts {
		response = append(response, acc.Status())
	}
	respondWithJSON(w, http.StatusOK, response)
}

// Connect подключает счёт
// POST /api/v1/accounts/connect
//
// Request Body:
//
//	{
//	  "server": "MetaQuotes-Demo",
//	  "account_number": 12345678,
//	  "password": "secret"
//	}
//
// Response:
// - 200 OK: статус счёта (ONLINE или SIMULATED, если мост недоступен)
// - 400 Bad Request: невалидные данные
// - 401 Unauthorized: терминал отклонил вход
// - 409 Conflict: счёт уже подключен
func (h *AccountHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.registry.Connect(r.Context(), models.Credentials{
		AccountID:     req.AccountID,
		Server:        req.Server,
		AccountNumber: req.AccountNumber,
		Password:      req.Password,
	})
	if err != nil {
		handleEngineError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, acc.Status())
}

// GetAccount возвращает статус и снимок счёта
// GET /api/v1/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, acc.Status())
}

// Disconnect отключает счёт и снимает его с восстановления при старте
// DELETE /api/v1/accounts/{id}/connect
func (h *AccountHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}
	if err := h.registry.Disconnect(r.Context(), acc.ID()); err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acc.Status())
}

// GetPositions возвращает позиции счёта
// GET /api/v1/accounts/{id}/positions[?status=closed&limit=50]
func (h *AccountHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	switch r.URL.Query().Get("status") {
	case "", models.PositionStatusOpen:
		positions := acc.Positions()
		respondWithJSON(w, http.StatusOK, PositionsResponse{Positions: positions, Total: len(positions)})

	case models.PositionStatusClosed:
		limit, err := parseLimit(r)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", err.Error())
			return
		}
		positions := []*models.Position{}
		if h.closed != nil {
			list, err := h.closed.ListClosedPositions(r.Context(), acc.ID(), limit)
			if err != nil {
				respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to load closed positions", err.Error())
				return
			}
			if list != nil {
				positions = list
			}
		}
		respondWithJSON(w, http.StatusOK, PositionsResponse{Positions: positions, Total: len(positions)})

	default:
		respondWithError(w, http.StatusBadRequest, "invalid_status", "Status must be open or closed", "")
	}
}

// Poll запускает внеочередную сверку с мостом
// POST /api/v1/accounts/{id}/poll
//
// Response:
// - 200 OK: запись журнала синхронизации (в том числе с outcome=failed)
// - 409 Conflict: счёт не подключен, сверка уже идёт или результат отброшен
func (h *AccountHandler) Poll(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	entry, err := acc.PollNow(r.Context())
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// Push применяет внешнее обновление счёта синхронно
// POST /api/v1/accounts/{id}/push
//
// Request Body: {"timestamp": "...", "account": {...}, "positions": [...]}
func (h *AccountHandler) Push(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}

	var ev models.PushEvent
	if !decodeJSON(w, r, &ev) {
		return
	}
	ev.AccountID = acc.ID()

	entry, err := acc.ApplyPush(r.Context(), ev.ToUpdate(time.Now()))
	if err != nil {
		handleEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// GetSyncLogs возвращает журнал синхронизации, новые записи первыми
// GET /api/v1/accounts/{id}/sync-logs[?limit=50]
func (h *AccountHandler) GetSyncLogs(w http.ResponseWriter, r *http.Request) {
	acc, ok := accountFrom(w, r, h.registry)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", err.Error())
		return
	}

	entries := []*models.SyncLogEntry{}
	if h.syncLogs != nil {
		list, err := h.syncLogs.ListSyncLogs(r.Context(), acc.ID(), limit)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "internal_error", "Failed to load sync logs", err.Error())
			return
		}
		if list != nil {
			entries = list
		}
	}
	respondWithJSON(w, http.StatusOK, SyncLogsResponse{Entries: entries, Total: len(entries)})
}
