package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// validator.go - проверка входных данных API и конфигурации
//
// Сообщения об ошибках никогда не содержат значения секретов.

// Ошибки валидации
var (
	ErrInvalidAPIKey    = errors.New("invalid API key format")
	ErrInvalidClientID  = errors.New("invalid client id format")
	ErrInvalidAPISecret = errors.New("invalid API secret")
	ErrInvalidUUID      = errors.New("invalid uuid")
	ErrInvalidValidity  = errors.New("signature validity must be between 1 and 3600 seconds")
	ErrInvalidBatchSize = errors.New("batch size must be between 1 and 1000")
)

// Ограничения
const (
	MinAPIKeyLength    = 16
	MaxAPIKeyLength    = 128
	MaxClientIDLength  = 128
	MinAPISecretLength = 16
	MaxAPISecretLength = 256
	MinValidity        = 1
	MaxValidity        = 3600
	MaxBatchSize       = 1000
)

var (
	apiKeyRegex   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	clientIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ValidateAPIKey проверяет формат API ключа
func ValidateAPIKey(key string) error {
	if len(key) < MinAPIKeyLength || len(key) > MaxAPIKeyLength {
		return fmt.Errorf("%w: length %d", ErrInvalidAPIKey, len(key))
	}
	if !apiKeyRegex.MatchString(key) {
		return ErrInvalidAPIKey
	}
	return nil
}

// ValidateClientID проверяет идентификатор клиента
func ValidateClientID(id string) error {
	if id == "" || len(id) > MaxClientIDLength {
		return fmt.Errorf("%w: length %d", ErrInvalidClientID, len(id))
	}
	if !clientIDRegex.MatchString(id) {
		return ErrInvalidClientID
	}
	return nil
}

// ValidateAPISecret проверяет длину секрета, содержимое не проверяется
func ValidateAPISecret(secret string) error {
	if len(secret) < MinAPISecretLength || len(secret) > MaxAPISecretLength {
		return fmt.Errorf("%w: length %d", ErrInvalidAPISecret, len(secret))
	}
	return nil
}

// ValidateUUID проверяет строковый идентификатор
func ValidateUUID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, ErrInvalidUUID
	}
	return u, nil
}

// ValidateValidity проверяет окно действия подписи
func ValidateValidity(seconds int) error {
	if seconds < MinValidity || seconds > MaxValidity {
		return ErrInvalidValidity
	}
	return nil
}

// ValidateBatchSize проверяет размер страницы
func ValidateBatchSize(n int) error {
	if n < 1 || n > MaxBatchSize {
		return ErrInvalidBatchSize
	}
	return nil
}

// ValidateCredentials проверяет набор учётных данных целиком
func ValidateCredentials(apiKey, clientID, secret string) error {
	var errs ValidationErrors
	errs.AddError("api_key", ValidateAPIKey(apiKey))
	errs.AddError("client_id", ValidateClientID(clientID))
	errs.AddError("secret", ValidateAPISecret(secret))
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ============================================================
// ValidationErrors
// ============================================================

// ValidationError - ошибка конкретного поля
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors - набор ошибок полей
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Add добавляет ошибку поля
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// AddError добавляет ошибку, nil игнорируется
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// HasErrors возвращает true если есть ошибки
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}
