package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"firisync/internal/api/handlers"
	"firisync/internal/api/middleware"
	"firisync/internal/service"
	"firisync/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	SyncService  service.SyncServiceInterface
	Hub          *websocket.Hub
	APITokenHash string
	Logger       *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (ServiceAuth)
//
//	├── PUT /connections - сохранить ключи Firi
//	├── POST /connections/{id}/sync - синхронизировать подключение
//	└── POST /sync - сохранить ключи и синхронизировать
//
// /ws/
//
//	└── /sync - прогресс синхронизации (?connection_id=)
//
// /health, /health/crypto, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. ServiceAuth (только /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS)

	var crypto handlers.CryptoChecker
	if deps.SyncService != nil {
		crypto = deps.SyncService
	}
	healthHandler := handlers.NewHealthHandler(crypto, logger)

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.ServiceAuth(deps.APITokenHash))

	if deps.SyncService != nil {
		syncHandler := handlers.NewSyncHandler(deps.SyncService, logger)

		api.HandleFunc("/connections", syncHandler.UpsertConnection).Methods("PUT")
		api.HandleFunc("/connections/{id}/sync", syncHandler.TriggerSync).Methods("POST")
		api.HandleFunc("/connections/{id}/needs-review", syncHandler.NeedsReview).Methods("GET")
		api.HandleFunc("/sync", syncHandler.SyncWithCredentials).Methods("POST")
	}

	// WebSocket route
	if deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/sync", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/crypto", healthHandler.Crypto).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
