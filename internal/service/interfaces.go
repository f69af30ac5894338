package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"firisync/internal/ingest"
	"firisync/internal/models"
)

// ConnectionRepositoryInterface определяет интерфейс репозитория подключений
type ConnectionRepositoryInterface interface {
	Upsert(ctx context.Context, conn *models.ExchangeConnection) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ExchangeConnection, error)
	UpdateSyncStatus(ctx context.Context, id uuid.UUID, syncedAt time.Time, lastError string) error
}

// CursorRepositoryInterface определяет интерфейс репозитория курсоров
type CursorRepositoryInterface interface {
	GetAll(ctx context.Context, connectionID uuid.UUID) (map[models.Stream]models.SyncCursor, error)
	Save(ctx context.Context, cursors []models.SyncCursor) error
}

// RawRepositoryInterface определяет интерфейс репозитория сырых записей
type RawRepositoryInterface interface {
	UpsertBatch(ctx context.Context, records []models.RawRecord) error
	ListByKinds(ctx context.Context, connectionID uuid.UUID, kinds []models.RecordKind) ([]models.RawRecord, error)
	CountByConnection(ctx context.Context, connectionID uuid.UUID) (int, error)
}

// NormalizedRepositoryInterface определяет интерфейс репозитория журнала
type NormalizedRepositoryInterface interface {
	UpsertBatch(ctx context.Context, entries []*models.NormalizedEntry) error
	ListWithOrder(ctx context.Context, connectionID uuid.UUID) ([]*models.NormalizedEntry, error)
	SaveEnrichment(ctx context.Context, entries []*models.NormalizedEntry) error
	ListNeedsReview(ctx context.Context, connectionID uuid.UUID) ([]*models.NormalizedEntry, error)
	CountLedger(ctx context.Context, connectionID uuid.UUID) (int, error)
}

// SyncRunner - постраничная выгрузка потоков (*ingest.Manager)
type SyncRunner interface {
	SyncAll(ctx context.Context, target ingest.Target) (*ingest.Result, error)
}

// SyncBroadcaster - отправка прогресса синхронизации через WebSocket
type SyncBroadcaster interface {
	BroadcastSyncProgress(connectionID uuid.UUID, stream models.Stream, progress models.StreamProgress)
	BroadcastSyncCompleted(summary *models.SyncSummary)
}

// SyncServiceInterface - операции, доступные HTTP слою (*SyncService)
type SyncServiceInterface interface {
	Connect(ctx context.Context, userID uuid.UUID, creds models.Credentials) (*models.ExchangeConnection, error)
	Sync(ctx context.Context, connectionID uuid.UUID) (*models.SyncSummary, error)
	SyncWithCredentials(ctx context.Context, userID uuid.UUID, creds models.Credentials) (*models.SyncSummary, error)
	NeedsReview(ctx context.Context, connectionID uuid.UUID) (*models.ReviewReport, error)
	CryptoHealth() error
}
