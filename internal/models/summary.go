package models

import (
	"time"

	"github.com/google/uuid"

	"firisync/pkg/ratelimit"
)

// StreamProgress - итог пагинации одного потока
type StreamProgress struct {
	Pages     int    `json:"pages"`
	Records   int    `json:"records"`
	Exhausted bool   `json:"exhausted"`
	LastError string `json:"last_error,omitempty"`
}

// ProcessResult - итог сохранения и нормализации
type ProcessResult struct {
	TotalRaw        int      `json:"total_raw"`
	TotalNormalized int      `json:"total_normalized"`
	NeedsReview     int      `json:"needs_review"`
	// ShadowedOrders - строки buy/sell, продублированные заполненным trade_match
	ShadowedOrders  int      `json:"shadowed_orders"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// SyncSummary - результат вызова синхронизации
//
// Синхронизация best-effort: ошибки потоков попадают в Errors,
// собранные данные сохраняются.
type SyncSummary struct {
	RunID        uuid.UUID                 `json:"run_id"`
	ConnectionID uuid.UUID                 `json:"connection_id"`
	StartedAt    time.Time                 `json:"started_at"`
	FinishedAt   time.Time                 `json:"finished_at"`
	Streams      map[Stream]StreamProgress `json:"streams"`
	RateLimiter  ratelimit.Stats           `json:"rate_limiter"`
	ProcessResult
}

// HasErrors - были ли нефатальные ошибки
func (s *SyncSummary) HasErrors() bool {
	return len(s.Errors) > 0
}

// ReviewReport - строки журнала подключения, требующие ручной проверки
type ReviewReport struct {
	ConnectionID uuid.UUID          `json:"connection_id"`
	RawRecords   int                `json:"raw_records"`
	LedgerRows   int                `json:"ledger_rows"`
	Entries      []*NormalizedEntry `json:"entries"`
}
