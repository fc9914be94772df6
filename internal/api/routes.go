package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accountsync/internal/api/handlers"
	"accountsync/internal/api/middleware"
	"accountsync/internal/engine"
	"accountsync/internal/websocket"
	"accountsync/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Registry       *engine.Registry
	SyncLogs       handlers.SyncLogReader        // nil - журнал не читается
	ClosedPosition handlers.ClosedPositionReader // nil - история закрытых позиций пуста
	Hub            *websocket.Hub                // nil - без /ws/stream
	AllowedOrigins []string
	Log            *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /accounts/
//	│   ├── GET / - список счетов
//	│   ├── POST /connect - подключить счёт
//	│   ├── GET /{id} - статус и снимок
//	│   ├── DELETE /{id}/connect - отключить счёт
//	│   ├── GET /{id}/positions - позиции (?status=open|closed)
//	│   ├── POST /{id}/poll - внеочередная сверка
//	│   ├── POST /{id}/push - внешнее обновление
//	│   ├── GET /{id}/sync-logs - журнал синхронизации
//	│   ├── POST /{id}/trades - сделка через Risk Gate
//	│   ├── DELETE /{id}/trades/{ticket} - закрыть позицию
//	│   └── /{id}/risk/
//	│       ├── GET /parameters - параметры риска
//	│       ├── PATCH /parameters - обновить параметры
//	│       ├── POST /assess - оценка сделки
//	│       ├── GET /position-size - оптимальный объём
//	│       ├── GET /metrics - метрики портфеля
//	│       └── GET /alerts - журнал алертов
//
// /ws/stream - WebSocket поток событий движка (?account_id= фильтр)
// /metrics   - Prometheus
// /health    - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. Logging
// 3. CORS
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(handlers.NotFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)

	var log *utils.Logger
	var origins []string
	if deps != nil {
		log = deps.Log
		origins = deps.AllowedOrigins
	}
	log = utils.OrGlobal(log).WithComponent("api")

	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORS(origins))

	api := router.PathPrefix("/api/v1").Subrouter()
	// подроутер сам отвечает 405: иначе несовпадение метода теряется в PathPrefix
	api.NotFoundHandler = http.HandlerFunc(handlers.NotFound)
	api.MethodNotAllowedHandler = http.HandlerFunc(handlers.MethodNotAllowed)

	if deps != nil && deps.Registry != nil {
		accountHandler := handlers.NewAccountHandler(deps.Registry, deps.SyncLogs, deps.ClosedPosition)
		tradeHandler := handlers.NewTradeHandler(deps.Registry)
		riskHandler := handlers.NewRiskHandler(deps.Registry)

		// Account routes
		api.HandleFunc("/accounts", accountHandler.ListAccounts).Methods("GET")
		api.HandleFunc("/accounts/connect", accountHandler.Connect).Methods("POST")
		api.HandleFunc("/accounts/{id}", accountHandler.GetAccount).Methods("GET")
		api.HandleFunc("/accounts/{id}/connect", accountHandler.Disconnect).Methods("DELETE")
		api.HandleFunc("/accounts/{id}/positions", accountHandler.GetPositions).Methods("GET")
		api.HandleFunc("/accounts/{id}/poll", accountHandler.Poll).Methods("POST")
		api.HandleFunc("/accounts/{id}/push", accountHandler.Push).Methods("POST")
		api.HandleFunc("/accounts/{id}/sync-logs", accountHandler.GetSyncLogs).Methods("GET")

		// Trade routes
		api.HandleFunc("/accounts/{id}/trades", tradeHandler.PlaceTrade).Methods("POST")
		api.HandleFunc("/accounts/{id}/trades/{ticket}", tradeHandler.CloseTrade).Methods("DELETE")

		// Risk routes
		api.HandleFunc("/accounts/{id}/risk/parameters", riskHandler.GetParameters).Methods("GET")
		api.HandleFunc("/accounts/{id}/risk/parameters", riskHandler.UpdateParameters).Methods("PATCH")
		api.HandleFunc("/accounts/{id}/risk/assess", riskHandler.Assess).Methods("POST")
		api.HandleFunc("/accounts/{id}/risk/position-size", riskHandler.PositionSize).Methods("GET")
		api.HandleFunc("/accounts/{id}/risk/metrics", riskHandler.GetMetrics).Methods("GET")
		api.HandleFunc("/accounts/{id}/risk/alerts", riskHandler.GetAlerts).Methods("GET")
	}

	// WebSocket route
	if deps != nil && deps.Hub != nil {
		router.HandleFunc("/ws/stream", deps.Hub.ServeWS)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
