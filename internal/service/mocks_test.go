package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"firisync/internal/ingest"
	"firisync/internal/models"
	"firisync/internal/repository"
)

// ============ Mock ConnectionRepository ============

type MockConnectionRepository struct {
	conns     map[uuid.UUID]*models.ExchangeConnection
	upsertErr error
	getErr    error

	statusCalls int
	lastError   string
}

func NewMockConnectionRepository() *MockConnectionRepository {
	return &MockConnectionRepository{conns: make(map[uuid.UUID]*models.ExchangeConnection)}
}

func (m *MockConnectionRepository) Upsert(_ context.Context, conn *models.ExchangeConnection) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, existing := range m.conns {
		if existing.UserID == conn.UserID && existing.Exchange == conn.Exchange {
			conn.ID = existing.ID
		}
	}
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	now := time.Now()
	conn.CreatedAt, conn.UpdatedAt = now, now
	cp := *conn
	m.conns[conn.ID] = &cp
	return nil
}

func (m *MockConnectionRepository) GetByID(_ context.Context, id uuid.UUID) (*models.ExchangeConnection, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	conn, ok := m.conns[id]
	if !ok {
		return nil, repository.ErrConnectionNotFound
	}
	cp := *conn
	return &cp, nil
}

func (m *MockConnectionRepository) UpdateSyncStatus(_ context.Context, id uuid.UUID, syncedAt time.Time, lastError string) error {
	conn, ok := m.conns[id]
	if !ok {
		return repository.ErrConnectionNotFound
	}
	m.statusCalls++
	m.lastError = lastError
	conn.LastSyncAt = &syncedAt
	conn.LastError = lastError
	return nil
}

// ============ Mock CursorRepository ============

type MockCursorRepository struct {
	cursors map[models.Stream]models.SyncCursor
	getErr  error
	saveErr error
}

func NewMockCursorRepository() *MockCursorRepository {
	return &MockCursorRepository{cursors: make(map[models.Stream]models.SyncCursor)}
}

func (m *MockCursorRepository) GetAll(_ context.Context, _ uuid.UUID) (map[models.Stream]models.SyncCursor, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make(map[models.Stream]models.SyncCursor, len(m.cursors))
	for k, v := range m.cursors {
		out[k] = v
	}
	return out, nil
}

func (m *MockCursorRepository) Save(_ context.Context, cursors []models.SyncCursor) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, c := range cursors {
		m.cursors[c.Stream] = c
	}
	return nil
}

// ============ Mock RawRepository ============

// MockRawRepository хранит записи по естественному ключу, как ON CONFLICT
type MockRawRepository struct {
	records  map[models.NaturalKey]models.RawRecord
	nextID   int64
	failKind models.RecordKind
	listErr  error
}

func NewMockRawRepository() *MockRawRepository {
	return &MockRawRepository{records: make(map[models.NaturalKey]models.RawRecord), nextID: 1}
}

func (m *MockRawRepository) UpsertBatch(_ context.Context, records []models.RawRecord) error {
	for i := range records {
		if records[i].Kind == m.failKind {
			return errors.New("raw insert failed")
		}
	}
	for i := range records {
		key := records[i].Key()
		if existing, ok := m.records[key]; ok {
			records[i].ID = existing.ID
		} else {
			records[i].ID = m.nextID
			m.nextID++
		}
		m.records[key] = records[i]
	}
	return nil
}

func (m *MockRawRepository) ListByKinds(_ context.Context, _ uuid.UUID, kinds []models.RecordKind) ([]models.RawRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.RawRecord
	for _, r := range m.records {
		for _, k := range kinds {
			if r.Kind == k {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRawRepository) CountByConnection(_ context.Context, _ uuid.UUID) (int, error) {
	return len(m.records), nil
}

// ============ Mock NormalizedRepository ============

// MockNormalizedRepository хранит одну строку на source_raw_id
type MockNormalizedRepository struct {
	rows      map[int64]*models.NormalizedEntry
	nextID    int64
	upsertErr error
}

func NewMockNormalizedRepository() *MockNormalizedRepository {
	return &MockNormalizedRepository{rows: make(map[int64]*models.NormalizedEntry), nextID: 1}
}

func (m *MockNormalizedRepository) UpsertBatch(_ context.Context, entries []*models.NormalizedEntry) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, e := range entries {
		if existing, ok := m.rows[e.SourceRawID]; ok {
			e.ID = existing.ID
		} else {
			e.ID = m.nextID
			m.nextID++
		}
		cp := *e
		cp.MergedInto = nil
		m.rows[e.SourceRawID] = &cp
	}
	return nil
}

func (m *MockNormalizedRepository) ListWithOrder(_ context.Context, _ uuid.UUID) ([]*models.NormalizedEntry, error) {
	var out []*models.NormalizedEntry
	for _, e := range m.rows {
		if e.HasOrder() {
			cp := *e
			out = append(out, &cp)
		}
	}
	// как ORDER BY occurred_at, id в NormalizedRepository
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockNormalizedRepository) SaveEnrichment(_ context.Context, entries []*models.NormalizedEntry) error {
	for _, e := range entries {
		for _, row := range m.rows {
			if row.ID == e.ID {
				row.BaseAsset, row.BaseAmount = e.BaseAsset, e.BaseAmount
				row.QuoteAsset, row.QuoteAmount = e.QuoteAsset, e.QuoteAmount
				row.FeeAsset, row.FeeAmount = e.FeeAsset, e.FeeAmount
				row.Price = e.Price
				row.MergedInto = e.MergedInto
				row.NeedsReview = e.NeedsReview
			}
		}
	}
	return nil
}

func (m *MockNormalizedRepository) ListNeedsReview(_ context.Context, _ uuid.UUID) ([]*models.NormalizedEntry, error) {
	var out []*models.NormalizedEntry
	for _, e := range m.ledger() {
		if e.NeedsReview {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockNormalizedRepository) CountLedger(_ context.Context, _ uuid.UUID) (int, error) {
	return len(m.ledger()), nil
}

// ledger - строки без поглощённых комиссий
func (m *MockNormalizedRepository) ledger() []*models.NormalizedEntry {
	var out []*models.NormalizedEntry
	for _, e := range m.rows {
		if e.MergedInto == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============ Mock SyncRunner ============

type MockSyncRunner struct {
	result *ingest.Result
	err    error

	calls  int
	target ingest.Target
}

func (m *MockSyncRunner) SyncAll(_ context.Context, target ingest.Target) (*ingest.Result, error) {
	m.calls++
	m.target = target
	if target.OnProgress != nil && m.result != nil {
		for stream, s := range m.result.Streams {
			target.OnProgress(stream, s.Progress)
		}
	}
	return m.result, m.err
}

// ============ Mock Broadcaster ============

type MockBroadcaster struct {
	mu        sync.Mutex
	progress  int
	completed []*models.SyncSummary
}

func (m *MockBroadcaster) BroadcastSyncProgress(_ uuid.UUID, _ models.Stream, _ models.StreamProgress) {
	m.mu.Lock()
	m.progress++
	m.mu.Unlock()
}

func (m *MockBroadcaster) BroadcastSyncCompleted(summary *models.SyncSummary) {
	m.mu.Lock()
	m.completed = append(m.completed, summary)
	m.mu.Unlock()
}
