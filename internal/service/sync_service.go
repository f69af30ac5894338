package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"firisync/internal/ingest"
	"firisync/internal/models"
	"firisync/internal/repository"
	"firisync/pkg/crypto"
	"firisync/pkg/utils"
)

// Ошибки сервиса
var (
	ErrConnectionNotFound     = errors.New("exchange connection not found")
	ErrCredentialsUnavailable = errors.New("cannot access stored credentials")
	ErrInvalidCredentials     = errors.New("invalid API credentials")
)

// maxLastErrorLen - ограничение last_error в таблице подключений
const maxLastErrorLen = 1000

// SyncService - точка входа синхронизации подключения Firi
//
// Вызывающий отвечает за аутентификацию и авторизацию до вызова.
type SyncService struct {
	connRepo   ConnectionRepositoryInterface
	cursorRepo CursorRepositoryInterface
	processor  *DataProcessor
	runner     SyncRunner
	cipher     *crypto.Cipher
	logger     *zap.Logger
	now        func() time.Time

	// WebSocket hub для прогресса, может быть nil
	wsHub SyncBroadcaster
}

// NewSyncService создает новый экземпляр сервиса
func NewSyncService(
	connRepo ConnectionRepositoryInterface,
	cursorRepo CursorRepositoryInterface,
	processor *DataProcessor,
	runner SyncRunner,
	cipher *crypto.Cipher,
	logger *zap.Logger,
) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		connRepo:   connRepo,
		cursorRepo: cursorRepo,
		processor:  processor,
		runner:     runner,
		cipher:     cipher,
		logger:     logger.Named("sync"),
		now:        time.Now,
	}
}

// SetWebSocketHub устанавливает hub для broadcast прогресса.
//
// Вызывается после инициализации Hub в main.go:
//
//	syncService := service.NewSyncService(...)
//	syncService.SetWebSocketHub(wsHub)
func (s *SyncService) SetWebSocketHub(hub SyncBroadcaster) {
	s.wsHub = hub
}

// Connect сохраняет учётные данные пользователя
// Выполняет:
// 1. Проверку формата ключей
// 2. Шифрование секрета
// 3. Замену единственного набора ключей для (user, firi)
func (s *SyncService) Connect(ctx context.Context, userID uuid.UUID, creds models.Credentials) (*models.ExchangeConnection, error) {
	if err := utils.ValidateCredentials(creds.APIKey, creds.ClientID, creds.Secret); err != nil {
		return nil, errors.Join(ErrInvalidCredentials, err)
	}

	sealed, err := s.cipher.Encrypt(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	conn := &models.ExchangeConnection{
		UserID:          userID,
		Exchange:        models.ExchangeFiri,
		APIKey:          creds.APIKey,
		ClientID:        creds.ClientID,
		EncryptedSecret: sealed,
	}
	if err := s.connRepo.Upsert(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("connection stored",
		utils.ConnectionID(conn.ID.String()),
		utils.UserID(userID.String()),
		utils.ByteLen("secret", len(sealed)),
	)
	return conn, nil
}

// SyncWithCredentials сохраняет свежие ключи и сразу синхронизирует
func (s *SyncService) SyncWithCredentials(ctx context.Context, userID uuid.UUID, creds models.Credentials) (*models.SyncSummary, error) {
	conn, err := s.Connect(ctx, userID, creds)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, conn.ID)
}

// Sync выполняет синхронизацию сохранённого подключения
//
// Ошибки потоков попадают в сводку, собранные данные сохраняются.
// Ошибка аутентификации, расшифровки и отмена контекста прерывают запуск.
func (s *SyncService) Sync(ctx context.Context, connectionID uuid.UUID) (*models.SyncSummary, error) {
	startedAt := s.now()
	log := s.logger.With(utils.ConnectionID(connectionID.String()))

	conn, err := s.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("load connection: %w", err)
	}

	secret, err := s.cipher.Decrypt(conn.EncryptedSecret)
	if err != nil {
		// Тип ошибки и длина, без содержимого
		log.Error("stored secret cannot be decrypted",
			zap.String("error_type", fmt.Sprintf("%T", err)),
			utils.ByteLen("secret", len(conn.EncryptedSecret)),
		)
		s.recordStatus(ctx, conn.ID, ErrCredentialsUnavailable.Error())
		return nil, ErrCredentialsUnavailable
	}

	cursors, err := s.cursorRepo.GetAll(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("load cursors: %w", err)
	}

	target := ingest.Target{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Credentials: models.Credentials{
			APIKey:   conn.APIKey,
			ClientID: conn.ClientID,
			Secret:   secret,
		},
		Cursors:    cursors,
		OnProgress: s.progressFunc(conn.ID),
	}

	log.Info("sync started", utils.Count("stored_cursors", len(cursors)))

	result, err := s.runner.SyncAll(ctx, target)
	if err != nil {
		log.Error("sync aborted", zap.Error(err))
		s.recordStatus(ctx, conn.ID, err.Error())
		return nil, err
	}

	records := make(map[models.Stream][]models.RawRecord, len(models.Streams))
	for _, stream := range models.Streams {
		records[stream] = result.Records(stream)
	}

	processed := s.processor.ProcessAllData(ctx, ProcessInput{
		ConnectionID: conn.ID,
		Records:      records,
		Cursors:      result.Cursors(),
		Markets:      result.Markets,
	})

	summary := &models.SyncSummary{
		RunID:        uuid.New(),
		ConnectionID: conn.ID,
		StartedAt:    startedAt,
		FinishedAt:   s.now(),
		Streams:      result.Progress(),
		RateLimiter:  result.RateLimiter,
		ProcessResult: models.ProcessResult{
			TotalRaw:        processed.TotalRaw,
			TotalNormalized: processed.TotalNormalized,
			NeedsReview:     processed.NeedsReview,
			ShadowedOrders:  processed.ShadowedOrders,
			Errors:          append(result.Errors(), processed.Errors...),
			Warnings:        append(result.Warnings(), processed.Warnings...),
		},
	}

	s.recordStatus(ctx, conn.ID, strings.Join(summary.Errors, "; "))

	if s.wsHub != nil {
		s.wsHub.BroadcastSyncCompleted(summary)
	}

	log.Info("sync completed",
		zap.String("run_id", summary.RunID.String()),
		utils.Count("raw", summary.TotalRaw),
		utils.Count("normalized", summary.TotalNormalized),
		utils.Count("needs_review", summary.NeedsReview),
		utils.Count("errors", len(summary.Errors)),
		utils.Latency(summary.FinishedAt.Sub(startedAt)),
	)

	return summary, nil
}

// NeedsReview возвращает незаполненные trade_match и ордера без рынка
func (s *SyncService) NeedsReview(ctx context.Context, connectionID uuid.UUID) (*models.ReviewReport, error) {
	if _, err := s.connRepo.GetByID(ctx, connectionID); err != nil {
		if errors.Is(err, repository.ErrConnectionNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("load connection: %w", err)
	}
	return s.processor.Review(ctx, connectionID)
}

// CryptoHealth проверяет ключ шифрования round-trip'ом
func (s *SyncService) CryptoHealth() error {
	return s.cipher.HealthCheck()
}

// progressFunc пересылает прогресс потока в hub
func (s *SyncService) progressFunc(connectionID uuid.UUID) func(models.Stream, models.StreamProgress) {
	return func(stream models.Stream, progress models.StreamProgress) {
		if s.wsHub != nil {
			s.wsHub.BroadcastSyncProgress(connectionID, stream, progress)
		}
	}
}

// recordStatus записывает итог запуска в подключение
// Не зависит от отмены контекста вызывающего.
func (s *SyncService) recordStatus(ctx context.Context, id uuid.UUID, lastError string) {
	lastError = truncateError(lastError, maxLastErrorLen)
	if err := s.connRepo.UpdateSyncStatus(context.WithoutCancel(ctx), id, s.now(), lastError); err != nil {
		s.logger.Warn("failed to update sync status", utils.ConnectionID(id.String()), zap.Error(err))
	}
}

// truncateError обрезает сообщение до limit байт по границе руны
func truncateError(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
