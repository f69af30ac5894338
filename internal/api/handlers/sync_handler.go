package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"firisync/internal/exchange"
	"firisync/internal/models"
	"firisync/internal/service"
	"firisync/pkg/utils"
)

// ConnectRequest - тело запроса сохранения ключей Firi
type ConnectRequest struct {
	UserID   string `json:"user_id"`
	APIKey   string `json:"api_key"`
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

func (r ConnectRequest) credentials() models.Credentials {
	return models.Credentials{APIKey: r.APIKey, ClientID: r.ClientID, Secret: r.Secret}
}

// SyncHandler отвечает за подключения и запуск синхронизации
//
// Endpoints:
// - PUT /api/v1/connections - сохранить (заменить) ключи пользователя
// - POST /api/v1/connections/{id}/sync - синхронизировать сохранённое подключение
// - POST /api/v1/sync - сохранить свежие ключи и сразу синхронизировать
// - GET /api/v1/connections/{id}/needs-review - строки журнала для ручной проверки
type SyncHandler struct {
	syncService service.SyncServiceInterface
	logger      *zap.Logger
}

// NewSyncHandler создает новый SyncHandler
func NewSyncHandler(syncService service.SyncServiceInterface, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{syncService: syncService, logger: logger.Named("api")}
}

// UpsertConnection сохраняет ключи пользователя
// PUT /api/v1/connections
//
// Ответы:
// - 200 OK: подключение сохранено (секрет в ответ не попадает)
// - 400 Bad Request: некорректные данные
func (h *SyncHandler) UpsertConnection(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := h.decodeConnect(w, r)
	if !ok {
		return
	}

	conn, err := h.syncService.Connect(r.Context(), userID, req.credentials())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, conn)
}

// TriggerSync синхронизирует сохранённое подключение
// POST /api/v1/connections/{id}/sync
//
// Ответы:
// - 200 OK: сводка синхронизации (нефатальные ошибки в errors)
// - 400 Bad Request: некорректный id
// - 401 Unauthorized: биржа отвергла ключи
// - 404 Not Found: подключение не найдено
// - 409 Conflict: сохранённый секрет не расшифровывается
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ValidateUUID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid connection id", "")
		return
	}

	summary, err := h.syncService.Sync(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// SyncWithCredentials сохраняет свежие ключи и синхронизирует
// POST /api/v1/sync
func (h *SyncHandler) SyncWithCredentials(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := h.decodeConnect(w, r)
	if !ok {
		return
	}

	summary, err := h.syncService.SyncWithCredentials(r.Context(), userID, req.credentials())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// NeedsReview возвращает незаполненные trade_match и ордера без рынка
// GET /api/v1/connections/{id}/needs-review
//
// Ответы:
// - 200 OK: список строк и счётчики подключения
// - 400 Bad Request: некорректный id
// - 404 Not Found: подключение не найдено
func (h *SyncHandler) NeedsReview(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ValidateUUID(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid connection id", "")
		return
	}

	report, err := h.syncService.NeedsReview(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

func (h *SyncHandler) decodeConnect(w http.ResponseWriter, r *http.Request) (ConnectRequest, uuid.UUID, bool) {
	var req ConnectRequest

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Текст ошибки декодера может содержать фрагмент тела с секретом
		respondWithError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", "")
		return req, uuid.Nil, false
	}

	userID, err := utils.ValidateUUID(req.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user id", "")
		return req, uuid.Nil, false
	}
	return req, userID, true
}

// respondServiceError переводит ошибку сервиса в HTTP ответ
// Детали ошибки биржи не раскрываются: в них подпись и время запроса.
func (h *SyncHandler) respondServiceError(w http.ResponseWriter, err error) {
	var validation utils.ValidationErrors

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		details := ""
		if errors.As(err, &validation) {
			details = validation.Error()
		}
		respondWithError(w, http.StatusBadRequest, "invalid_credentials", "Invalid API credentials", details)
	case errors.Is(err, service.ErrConnectionNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", "Connection not found", "")
	case errors.Is(err, service.ErrCredentialsUnavailable):
		respondWithError(w, http.StatusConflict, "credentials_unavailable", "Stored credentials cannot be used", "Reconnect the exchange")
	case exchange.IsAuthError(err):
		respondWithError(w, http.StatusUnauthorized, "exchange_auth", "Exchange rejected credentials", "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, http.StatusServiceUnavailable, "cancelled", "Sync was interrupted", "")
	default:
		h.logger.Error("request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal", "Internal server error", "")
	}
}
