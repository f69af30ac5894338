package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RecordKind - тип сырой записи биржи
type RecordKind string

const (
	KindTransaction RecordKind = "transaction"
	KindDeposit     RecordKind = "deposit"
	KindOrder       RecordKind = "order"
)

// RawRecord - запись биржи как есть, хранится для аудита
//
// Естественный ключ: (connection_id, provider, provider_tx_id, kind).
// Повторная загрузка той же записи обновляет строку, не дублирует.
type RawRecord struct {
	ID           int64           `json:"id" db:"id"`
	Provider     string          `json:"provider" db:"provider"`
	ConnectionID uuid.UUID       `json:"connection_id" db:"connection_id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	Kind         RecordKind      `json:"kind" db:"kind"`
	ProviderTxID string          `json:"provider_tx_id" db:"provider_tx_id"`
	OccurredAt   time.Time       `json:"occurred_at" db:"occurred_at"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
}

// NaturalKey - ключ идемпотентности
type NaturalKey struct {
	ProviderTxID string
	Kind         RecordKind
}

// Key возвращает естественный ключ записи в пределах подключения
func (r RawRecord) Key() NaturalKey {
	return NaturalKey{ProviderTxID: r.ProviderTxID, Kind: r.Kind}
}
