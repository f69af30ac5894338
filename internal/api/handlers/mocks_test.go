package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"firisync/internal/models"
)

// ErrMockDatabase - типовая ошибка мока
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Sync Service ============

// MockSyncService мок для SyncServiceInterface
type MockSyncService struct {
	mu sync.Mutex

	connectErr error
	syncErr    error
	healthErr  error
	reviewErr  error
	summary    *models.SyncSummary

	lastUserID uuid.UUID
	lastCreds  models.Credentials
	lastSyncID uuid.UUID
}

// NewMockSyncService создает новый мок сервиса синхронизации
func NewMockSyncService() *MockSyncService {
	return &MockSyncService{
		summary: &models.SyncSummary{
			RunID: uuid.New(),
			ProcessResult: models.ProcessResult{
				TotalRaw:        3,
				TotalNormalized: 3,
			},
		},
	}
}

func (m *MockSyncService) Connect(_ context.Context, userID uuid.UUID, creds models.Credentials) (*models.ExchangeConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUserID, m.lastCreds = userID, creds
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	return &models.ExchangeConnection{
		ID:              uuid.New(),
		UserID:          userID,
		Exchange:        models.ExchangeFiri,
		APIKey:          creds.APIKey,
		ClientID:        creds.ClientID,
		EncryptedSecret: []byte("sealed"),
	}, nil
}

func (m *MockSyncService) Sync(_ context.Context, connectionID uuid.UUID) (*models.SyncSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSyncID = connectionID
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	m.summary.ConnectionID = connectionID
	return m.summary, nil
}

func (m *MockSyncService) SyncWithCredentials(ctx context.Context, userID uuid.UUID, creds models.Credentials) (*models.SyncSummary, error) {
	conn, err := m.Connect(ctx, userID, creds)
	if err != nil {
		return nil, err
	}
	return m.Sync(ctx, conn.ID)
}

func (m *MockSyncService) NeedsReview(_ context.Context, connectionID uuid.UUID) (*models.ReviewReport, error) {
	if m.reviewErr != nil {
		return nil, m.reviewErr
	}
	return &models.ReviewReport{
		ConnectionID: connectionID,
		RawRecords:   3,
		LedgerRows:   2,
		Entries: []*models.NormalizedEntry{
			{ID: 7, ConnectionID: connectionID, TxnType: models.TxnTradeMatch, NeedsReview: true},
		},
	}, nil
}

func (m *MockSyncService) CryptoHealth() error {
	return m.healthErr
}
