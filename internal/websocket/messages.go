package websocket

import (
	"time"

	"github.com/google/uuid"

	"firisync/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSyncProgress - получена очередная страница потока
	// Отправляется из горутины потока после каждой страницы
	MessageTypeSyncProgress MessageType = "syncProgress"

	// MessageTypeSyncCompleted - запуск синхронизации завершён
	// Содержит полную сводку, включая нефатальные ошибки
	MessageTypeSyncCompleted MessageType = "syncCompleted"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// SyncProgressMessage - прогресс одного потока
type SyncProgressMessage struct {
	BaseMessage
	ConnectionID uuid.UUID             `json:"connection_id"`
	Stream       models.Stream         `json:"stream"`
	Progress     models.StreamProgress `json:"progress"`
}

// SyncCompletedMessage - итог запуска синхронизации
type SyncCompletedMessage struct {
	BaseMessage
	Data *models.SyncSummary `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewSyncProgressMessage создает сообщение прогресса потока
func NewSyncProgressMessage(connectionID uuid.UUID, stream models.Stream, progress models.StreamProgress) *SyncProgressMessage {
	return &SyncProgressMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSyncProgress,
			Timestamp: time.Now(),
		},
		ConnectionID: connectionID,
		Stream:       stream,
		Progress:     progress,
	}
}

// NewSyncCompletedMessage создает сообщение завершения синхронизации
func NewSyncCompletedMessage(summary *models.SyncSummary) *SyncCompletedMessage {
	return &SyncCompletedMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeSyncCompleted,
			Timestamp: time.Now(),
		},
		Data: summary,
	}
}
