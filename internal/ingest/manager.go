// Package ingest - постраничная выгрузка истории Firi с курсорами по потокам.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"firisync/internal/exchange"
	"firisync/internal/models"
	"firisync/pkg/ratelimit"
	"firisync/pkg/utils"
)

// Ошибки менеджера
var (
	ErrCursorStalled  = errors.New("pagination cursor did not advance")
	ErrMarketsMissing = errors.New("market directory not initialized")
)

// PageFetcher - источник страниц истории (*exchange.Client)
type PageFetcher interface {
	FetchPage(ctx context.Context, stream models.Stream, creds models.Credentials, count int, before *string) ([][]byte, error)
	Limiter(creds models.Credentials) *ratelimit.Limiter
}

// MarketSource - справочник рынков (*exchange.Directory)
type MarketSource interface {
	GetMarkets(ctx context.Context, creds models.Credentials) (models.Markets, error)
}

// Config - параметры пагинации
type Config struct {
	BatchSize  int  // размер запрашиваемой страницы
	MaxPages   int  // потолок страниц на поток за один запуск
	Concurrent bool // потоки параллельно (через общий лимитер)
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BatchSize:  100,
		MaxPages:   1000,
		Concurrent: true,
	}
}

// Target - что синхронизировать
type Target struct {
	ConnectionID uuid.UUID
	UserID       uuid.UUID
	Credentials  models.Credentials
	// Cursors - сохранённые курсоры; отсутствующий поток начинается с начала
	Cursors map[models.Stream]models.SyncCursor
	// OnProgress вызывается после каждой страницы (из горутины потока)
	OnProgress func(stream models.Stream, progress models.StreamProgress)
}

// StreamResult - итог одного потока
type StreamResult struct {
	Stream   models.Stream
	State    StreamState
	Cursor   models.SyncCursor
	Records  []models.RawRecord
	Progress models.StreamProgress
	Warnings []string
	Err      error
}

// Result - итог SyncAll
//
// Best-effort: поток с ошибкой возвращает то, что успел собрать,
// остальные потоки не прерываются.
type Result struct {
	Streams     map[models.Stream]*StreamResult
	Markets     models.Markets
	RateLimiter ratelimit.Stats
}

// Records возвращает собранные записи потока
func (r *Result) Records(stream models.Stream) []models.RawRecord {
	if s, ok := r.Streams[stream]; ok {
		return s.Records
	}
	return nil
}

// Cursors возвращает продвинутые курсоры всех потоков
func (r *Result) Cursors() map[models.Stream]models.SyncCursor {
	out := make(map[models.Stream]models.SyncCursor, len(r.Streams))
	for stream, s := range r.Streams {
		out[stream] = s.Cursor
	}
	return out
}

// Progress возвращает сводку по потокам
func (r *Result) Progress() map[models.Stream]models.StreamProgress {
	out := make(map[models.Stream]models.StreamProgress, len(r.Streams))
	for stream, s := range r.Streams {
		out[stream] = s.Progress
	}
	return out
}

// Errors - ошибки потоков в виде строк для сводки
func (r *Result) Errors() []string {
	var out []string
	for _, stream := range models.Streams {
		if s, ok := r.Streams[stream]; ok && s.Err != nil {
			out = append(out, fmt.Sprintf("%s: %v", stream, s.Err))
		}
	}
	return out
}

// Warnings - предупреждения всех потоков
func (r *Result) Warnings() []string {
	var out []string
	for _, stream := range models.Streams {
		if s, ok := r.Streams[stream]; ok {
			out = append(out, s.Warnings...)
		}
	}
	return out
}

// Manager - менеджер синхронизации потоков
type Manager struct {
	fetcher PageFetcher
	markets MarketSource
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewManager создаёт менеджер
func NewManager(fetcher PageFetcher, markets MarketSource, cfg Config, logger *zap.Logger) *Manager {
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		fetcher: fetcher,
		markets: markets,
		cfg:     cfg,
		logger:  logger.Named("ingest"),
		now:     time.Now,
	}
}

// ============================================================
// SyncAll
// ============================================================

// SyncAll выгружает все три потока
//
// Справочник рынков прогревается до ордеров: ордера обогащаются
// рынком при пагинации. Ошибка аутентификации (401) отменяет все потоки
// и возвращается как ошибка; прочие ошибки остаются в результате потока.
func (m *Manager) SyncAll(ctx context.Context, target Target) (*Result, error) {
	start := m.now()
	defer func() { SyncDuration.Observe(time.Since(start).Seconds()) }()

	log := m.logger.With(utils.ConnectionID(target.ConnectionID.String()))

	result := &Result{Streams: make(map[models.Stream]*StreamResult, len(models.Streams))}
	for _, stream := range models.Streams {
		result.Streams[stream] = &StreamResult{
			Stream: stream,
			State:  StatePending,
			Cursor: m.startCursor(target, stream),
		}
	}

	// Прогрев справочника рынков
	var marketsErr error
	if m.markets == nil {
		marketsErr = ErrMarketsMissing
	} else {
		result.Markets, marketsErr = m.markets.GetMarkets(ctx, target.Credentials)
	}
	if marketsErr != nil {
		if exchange.IsAuthError(marketsErr) || ctx.Err() != nil {
			return result, marketsErr
		}
		log.Warn("market directory unavailable, skipping orders", zap.Error(marketsErr))
		orders := result.Streams[models.StreamOrders]
		orders.State = StateErrored
		orders.Err = fmt.Errorf("initialize markets: %w", marketsErr)
		orders.Progress.LastError = orders.Err.Error()
		StreamErrors.WithLabelValues(string(models.StreamOrders)).Inc()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		authOnce sync.Once
		authErr  error
	)

	workers := 1
	if m.cfg.Concurrent {
		workers = len(models.Streams)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, stream := range models.Streams {
		sr := result.Streams[stream]
		if sr.State.IsTerminal() {
			continue
		}
		p.Go(func() {
			m.runStream(runCtx, target, result.Markets, sr, log)
			if sr.Err != nil && exchange.IsAuthError(sr.Err) {
				authOnce.Do(func() {
					authErr = sr.Err
					cancel()
				})
			}
		})
	}
	p.Wait()

	if limiter := m.fetcher.Limiter(target.Credentials); limiter != nil {
		result.RateLimiter = limiter.Stats()
	}

	if authErr != nil {
		return result, authErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// startCursor - продолжение прерванной синхронизации или начало потока
//
// Исчерпанный курсор начинается заново с самой свежей страницы:
// повторная загрузка идемпотентна благодаря upsert.
func (m *Manager) startCursor(target Target, stream models.Stream) models.SyncCursor {
	if stored, ok := target.Cursors[stream]; ok && stored.Resumable() {
		stored.ConnectionID = target.ConnectionID
		stored.Stream = stream
		return stored
	}
	return models.NewCursor(target.ConnectionID, stream)
}

// ============================================================
// Пагинация одного потока
// ============================================================

func (m *Manager) transition(sr *StreamResult, to StreamState, log *zap.Logger) {
	if !CanTransition(sr.State, to) {
		log.Warn("unexpected stream transition",
			zap.String("from", string(sr.State)),
			zap.String("to", string(to)),
		)
	}
	sr.State = to
}

// runStream крутит цикл Pending -> Fetching -> PageReceived до Exhausted/Errored
//
// Продолжаем, пока HasMore и не достигнут потолок страниц.
// HasMore = (размер страницы == запрошенному размеру): короткая
// страница - единственный признак конца данных.
func (m *Manager) runStream(ctx context.Context, target Target, markets models.Markets, sr *StreamResult, parent *zap.Logger) {
	stream := sr.Stream
	log := parent.With(utils.Stream(string(stream)))
	cur := &sr.Cursor
	fetched := 0

	for cur.HasMore && fetched < m.cfg.MaxPages {
		m.transition(sr, StateFetching, log)

		items, err := m.fetcher.FetchPage(ctx, stream, target.Credentials, m.cfg.BatchSize, cur.LastID)
		if err != nil {
			m.fail(sr, err, log)
			return
		}

		m.transition(sr, StatePageReceived, log)
		fetched++

		records, lastID, warnings := m.decodePage(target, stream, items, markets)
		sr.Records = append(sr.Records, records...)
		sr.Warnings = append(sr.Warnings, warnings...)

		hasMore := len(items) == m.cfg.BatchSize
		if hasMore && (lastID == "" || (cur.LastID != nil && *cur.LastID == lastID)) {
			m.fail(sr, ErrCursorStalled, log)
			return
		}

		cur.Page++
		if lastID != "" {
			cur.LastID = &lastID
		}
		cur.HasMore = hasMore
		cur.LastSyncAt = m.now()

		sr.Progress.Pages++
		sr.Progress.Records += len(records)
		PagesFetched.WithLabelValues(string(stream)).Inc()
		RecordsFetched.WithLabelValues(string(stream)).Add(float64(len(records)))

		log.Debug("page received",
			utils.Page(cur.Page),
			utils.Count("records", len(records)),
			zap.Bool("has_more", hasMore),
		)
		if target.OnProgress != nil {
			target.OnProgress(stream, sr.Progress)
		}
	}

	if !cur.HasMore {
		m.transition(sr, StateExhausted, log)
		sr.Progress.Exhausted = true
		return
	}

	// Потолок страниц: курсор сохраняет позицию для следующего запуска
	m.transition(sr, StatePending, log)
	log.Warn("page ceiling reached", utils.Count("max_pages", m.cfg.MaxPages))
	sr.Warnings = append(sr.Warnings, fmt.Sprintf("%s: stopped at page ceiling %d", stream, m.cfg.MaxPages))
}

func (m *Manager) fail(sr *StreamResult, err error, log *zap.Logger) {
	m.transition(sr, StateErrored, log)
	sr.Err = err
	sr.Progress.LastError = err.Error()
	StreamErrors.WithLabelValues(string(sr.Stream)).Inc()
	log.Warn("stream stopped", utils.Page(sr.Cursor.Page), zap.Error(err))
}

// decodePage превращает элементы страницы в сырые записи
//
// Возвращает записи, id последней записи страницы и предупреждения.
// Ордерам прикрепляется рынок из справочника.
func (m *Manager) decodePage(target Target, stream models.Stream, items [][]byte, markets models.Markets) ([]models.RawRecord, string, []string) {
	kind := stream.Kind()
	records := make([]models.RawRecord, 0, len(items))
	var (
		lastID   string
		warnings []string
	)

	fetchedAt := m.now().UTC()
	for i, item := range items {
		payload, err := exchange.DecodePayload(kind, item)
		if err != nil {
			SkippedRecords.WithLabelValues(string(stream)).Inc()
			warnings = append(warnings, fmt.Sprintf("%s: skipped record %d: %v", stream, i, err))
			continue
		}
		lastID = payload.ProviderID()

		raw := item
		if order, ok := payload.(*exchange.OrderPayload); ok {
			if info, found := markets.Lookup(order.Market); found {
				order.MarketInfo = &info
				if encoded, err := exchange.EncodePayload(order); err == nil {
					raw = encoded
				}
			} else {
				warnings = append(warnings, fmt.Sprintf("orders: unknown market %q for order %s", order.Market, order.ProviderID()))
			}
		}

		occurredAt := payload.Timestamp()
		if occurredAt.IsZero() {
			occurredAt = fetchedAt
		}

		records = append(records, models.RawRecord{
			Provider:     models.ExchangeFiri,
			ConnectionID: target.ConnectionID,
			UserID:       target.UserID,
			Kind:         kind,
			ProviderTxID: payload.ProviderID(),
			OccurredAt:   occurredAt,
			Payload:      raw,
		})
	}
	return records, lastID, warnings
}
