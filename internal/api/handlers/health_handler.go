package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// CryptoChecker - проверка ключа шифрования
type CryptoChecker interface {
	CryptoHealth() error
}

// HealthHandler - endpoints мониторинга
type HealthHandler struct {
	crypto CryptoChecker
	logger *zap.Logger
}

// NewHealthHandler создает новый HealthHandler
func NewHealthHandler(crypto CryptoChecker, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{crypto: crypto, logger: logger.Named("health")}
}

// Health - процесс жив
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Crypto прогоняет синтетическое значение через шифр
// GET /health/crypto
//
// Ответы:
// - 200 OK: {"status":"ok"}
// - 503 Service Unavailable: ключ не работает
func (h *HealthHandler) Crypto(w http.ResponseWriter, r *http.Request) {
	if h.crypto == nil {
		respondWithError(w, http.StatusServiceUnavailable, "crypto_unavailable", "Cipher is not configured", "")
		return
	}
	if err := h.crypto.CryptoHealth(); err != nil {
		h.logger.Error("crypto health check failed", zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "crypto_unavailable", "Cipher round-trip failed", "")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
