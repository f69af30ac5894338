package models

import (
	"time"

	"github.com/google/uuid"
)

// Stream - поток записей биржи с независимым курсором
type Stream string

const (
	StreamTransactions Stream = "transactions"
	StreamDeposits     Stream = "deposits"
	StreamOrders       Stream = "orders"
)

// Streams - все потоки в порядке синхронизации
var Streams = []Stream{StreamTransactions, StreamDeposits, StreamOrders}

// Kind возвращает тип сырых записей потока
func (s Stream) Kind() RecordKind {
	switch s {
	case StreamDeposits:
		return KindDeposit
	case StreamOrders:
		return KindOrder
	default:
		return KindTransaction
	}
}

// Valid проверяет что поток известен
func (s Stream) Valid() bool {
	return s == StreamTransactions || s == StreamDeposits || s == StreamOrders
}

// SyncCursor - позиция пагинации одного потока
//
// HasMore=false терминален для потока в текущей синхронизации.
// LastID - непрозрачный токен биржи (id последней записи страницы).
type SyncCursor struct {
	ConnectionID uuid.UUID `json:"connection_id" db:"connection_id"`
	Stream       Stream    `json:"stream" db:"stream"`
	Page         int       `json:"page" db:"page"`
	LastID       *string   `json:"last_id,omitempty" db:"last_id"`
	HasMore      bool      `json:"has_more" db:"has_more"`
	LastSyncAt   time.Time `json:"last_sync_at" db:"last_sync_at"`
}

// NewCursor создаёт курсор с начала потока
func NewCursor(connectionID uuid.UUID, stream Stream) SyncCursor {
	return SyncCursor{
		ConnectionID: connectionID,
		Stream:       stream,
		HasMore:      true,
	}
}

// Resumable - сохранённый курсор прерванной синхронизации
func (c SyncCursor) Resumable() bool {
	return c.HasMore && c.LastID != nil
}
