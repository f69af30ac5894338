package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"firisync/internal/models"
	"firisync/internal/normalize"
	"firisync/pkg/utils"
)

// ProcessInput - данные одного запуска синхронизации для сохранения
type ProcessInput struct {
	ConnectionID uuid.UUID
	Records      map[models.Stream][]models.RawRecord
	Cursors      map[models.Stream]models.SyncCursor
	Markets      models.Markets
}

// DataProcessor сохраняет сырые записи, нормализует их и обогащает журнал
//
// Каждый тип записей обрабатывается изолированно: ошибка депозитов
// не мешает ордерам. Ошибки собираются в плоский список, всё успешно
// сохранённое остаётся в базе.
type DataProcessor struct {
	rawRepo    RawRepositoryInterface
	normRepo   NormalizedRepositoryInterface
	cursorRepo CursorRepositoryInterface
	logger     *zap.Logger
}

// NewDataProcessor создает новый экземпляр процессора
func NewDataProcessor(
	rawRepo RawRepositoryInterface,
	normRepo NormalizedRepositoryInterface,
	cursorRepo CursorRepositoryInterface,
	logger *zap.Logger,
) *DataProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataProcessor{
		rawRepo:    rawRepo,
		normRepo:   normRepo,
		cursorRepo: cursorRepo,
		logger:     logger.Named("processor"),
	}
}

// ProcessAllData сохраняет три потока и выполняет глобальный проход обогащения
//
// Порядок:
// 1. По каждому типу: upsert сырых записей → нормализация → upsert журнала
// 2. Курсоры сохраняются только для потоков, чьи сырые записи записаны
// 3. Обогащение trade_match по всем ордерам подключения и объединение комиссий
func (p *DataProcessor) ProcessAllData(ctx context.Context, in ProcessInput) models.ProcessResult {
	var result models.ProcessResult
	log := p.logger.With(utils.ConnectionID(in.ConnectionID.String()))

	persisted := make(map[models.Stream]bool, len(models.Streams))
	for _, stream := range models.Streams {
		records := in.Records[stream]
		if err := p.processKind(ctx, stream, records, in.Markets, &result); err != nil {
			log.Error("failed to process stream", utils.Stream(string(stream)), zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("process %s: %v", stream, err))
			continue
		}
		persisted[stream] = true
	}

	if err := p.saveCursors(ctx, in.Cursors, persisted); err != nil {
		log.Error("failed to save cursors", zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("save cursors: %v", err))
	}

	outcome, err := p.enrich(ctx, in.ConnectionID, in.Markets)
	if err != nil {
		log.Error("enrichment pass failed", zap.Error(err))
		result.Errors = append(result.Errors, fmt.Sprintf("enrich: %v", err))
	}
	result.NeedsReview = outcome.needsReview
	result.ShadowedOrders = outcome.shadowedOrders

	log.Info("data processed",
		utils.Count("raw", result.TotalRaw),
		utils.Count("normalized", result.TotalNormalized),
		utils.Count("needs_review", result.NeedsReview),
		utils.Count("shadowed_orders", result.ShadowedOrders),
		utils.Count("errors", len(result.Errors)),
	)

	return result
}

// processKind сохраняет и нормализует записи одного потока
func (p *DataProcessor) processKind(ctx context.Context, stream models.Stream, records []models.RawRecord, markets models.Markets, result *models.ProcessResult) error {
	if len(records) == 0 {
		return nil
	}

	// id из базы нужны для source_raw_id
	if err := p.rawRepo.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("upsert raw: %w", err)
	}
	result.TotalRaw += len(records)

	entries := make([]*models.NormalizedEntry, 0, len(records))
	for _, raw := range records {
		res := normalize.Normalize(raw, markets)
		if res.Warning != "" {
			result.Warnings = append(result.Warnings, res.Warning)
		}
		if res.Entry != nil {
			entries = append(entries, res.Entry)
		}
	}

	if err := p.normRepo.UpsertBatch(ctx, entries); err != nil {
		return fmt.Errorf("upsert normalized: %w", err)
	}
	result.TotalNormalized += len(entries)
	return nil
}

// saveCursors сохраняет курсоры потоков, данные которых записаны
//
// Курсор потока с несохранёнными записями не продвигается:
// следующий запуск перечитает эти страницы.
func (p *DataProcessor) saveCursors(ctx context.Context, cursors map[models.Stream]models.SyncCursor, persisted map[models.Stream]bool) error {
	if p.cursorRepo == nil {
		return nil
	}

	var batch []models.SyncCursor
	for _, stream := range models.Streams {
		cursor, ok := cursors[stream]
		if !ok || !persisted[stream] {
			continue
		}
		batch = append(batch, cursor)
	}
	return p.cursorRepo.Save(ctx, batch)
}

// enrich - глобальный проход по всем строкам подключения с order_id
//
// Ордера берутся из всех прошлых синхронизаций: trade_match может
// ссылаться на ордер, загруженный раньше. Стоимость прохода растёт
// вместе с историей подключения.
func (p *DataProcessor) enrich(ctx context.Context, connectionID uuid.UUID, markets models.Markets) (enrichOutcome, error) {
	var outcome enrichOutcome

	entries, err := p.normRepo.ListWithOrder(ctx, connectionID)
	if err != nil {
		return outcome, fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		return outcome, nil
	}

	orders, err := p.rawRepo.ListByKinds(ctx, connectionID, []models.RecordKind{models.KindOrder})
	if err != nil {
		return outcome, fmt.Errorf("list orders: %w", err)
	}

	stats := normalize.EnrichTradeMatches(entries, normalize.IndexOrders(orders), markets)
	kept, absorbed := normalize.MergeFees(entries)

	if err := p.normRepo.SaveEnrichment(ctx, entries); err != nil {
		return outcome, fmt.Errorf("save enrichment: %w", err)
	}

	for _, e := range kept {
		if e.NeedsReview {
			outcome.needsReview++
		}
	}
	outcome.shadowedOrders = normalize.ShadowedOrders(kept)

	p.logger.Debug("enrichment done",
		utils.ConnectionID(connectionID.String()),
		utils.Count("resolved", stats.Resolved),
		utils.Count("unresolved", stats.Unresolved),
		utils.Count("fees_merged", len(absorbed)),
		utils.Count("shadowed_orders", outcome.shadowedOrders),
	)
	return outcome, nil
}

// Review собирает строки журнала, требующие ручной проверки, и счётчики подключения
func (p *DataProcessor) Review(ctx context.Context, connectionID uuid.UUID) (*models.ReviewReport, error) {
	entries, err := p.normRepo.ListNeedsReview(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("list needs review: %w", err)
	}
	ledgerRows, err := p.normRepo.CountLedger(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("count ledger: %w", err)
	}
	rawRecords, err := p.rawRepo.CountByConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("count raw records: %w", err)
	}

	if entries == nil {
		entries = []*models.NormalizedEntry{}
	}
	return &models.ReviewReport{
		ConnectionID: connectionID,
		RawRecords:   rawRecords,
		LedgerRows:   ledgerRows,
		Entries:      entries,
	}, nil
}

type enrichOutcome struct {
	needsReview    int
	shadowedOrders int
}
