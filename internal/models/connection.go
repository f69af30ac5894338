package models

import (
	"time"

	"github.com/google/uuid"
)

// ExchangeFiri - единственная поддерживаемая биржа
const ExchangeFiri = "firi"

// Credentials - учётные данные биржи в открытом виде
// Существуют только в памяти на время синхронизации
type Credentials struct {
	APIKey   string `json:"api_key"`
	ClientID string `json:"client_id"`
	Secret   string `json:"-"`
}

// String не раскрывает секрет при случайном логировании
func (c Credentials) String() string {
	return "Credentials{client_id=" + c.ClientID + ", secret=[REDACTED]}"
}

// ExchangeConnection - сохранённое подключение пользователя к бирже
// Один активный набор ключей на пару (user_id, exchange)
type ExchangeConnection struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	UserID          uuid.UUID  `json:"user_id" db:"user_id"`
	Exchange        string     `json:"exchange" db:"exchange"`
	APIKey          string     `json:"-" db:"api_key"`
	ClientID        string     `json:"client_id" db:"client_id"`
	EncryptedSecret []byte     `json:"-" db:"encrypted_secret"` // IV ‖ Tag ‖ Ciphertext
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastError       string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}
