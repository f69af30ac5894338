package exchange

import (
	"errors"
	"fmt"
	"net/http"
)

// Ошибки клиента биржи
var (
	ErrInvalidValidity   = errors.New("signature validity must be between 1 and 3600 seconds")
	ErrInvalidHeaders    = errors.New("auth headers failed structural validation")
	ErrInvalidServerTime = errors.New("invalid server time response")
	ErrNoMarkets         = errors.New("market list unavailable")
)

// maxBodyInError - сколько байт тела ответа сохранять в ошибке
const maxBodyInError = 512

func truncateBody(body []byte) string {
	if len(body) > maxBodyInError {
		return string(body[:maxBodyInError]) + "..."
	}
	return string(body)
}

// APIError - неуспешный HTTP ответ биржи
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firi %s: HTTP %d: %s", e.Endpoint, e.Status, e.Body)
}

// Retryable: 5xx и 429 повторяются, прочие 4xx - ошибка клиента
func (e *APIError) Retryable() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// AuthError - 401 от биржи: ключ, подпись или часы
//
// Никогда не повторяется. Содержит параметры отклонённой подписи
// для диагностики, но не секрет.
type AuthError struct {
	Endpoint  string
	Timestamp string
	Validity  string
	Payload   string
	Body      string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("firi %s: unauthorized (timestamp=%s validity=%s payload=%s): %s",
		e.Endpoint, e.Timestamp, e.Validity, e.Payload, e.Body)
}

func (e *AuthError) Retryable() bool {
	return false
}

// ExhaustedError - повторы исчерпаны
type ExhaustedError struct {
	Endpoint   string
	Attempts   int
	LastStatus int // 0 - транспортная ошибка
	LastBody   string
	Err        error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("firi %s: retries exhausted after %d attempts (last status %d): %v",
		e.Endpoint, e.Attempts, e.LastStatus, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsAuthError проверяет, является ли ошибка отказом в аутентификации
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
