package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"firisync/internal/models"
)

// ============================================================
// NormalizedRepository Tests
// ============================================================

var normalizedRowColumns = []string{
	"id", "user_id", "connection_id", "source_raw_id", "txn_type",
	"base_asset", "base_amount", "quote_asset", "quote_amount", "fee_asset", "fee_amount",
	"price", "txid", "order_id", "occurred_at", "metadata", "merged_into", "needs_review",
}

func TestNormalizedRepositoryUpsertBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	entry := &models.NormalizedEntry{
		UserID:       testUserID,
		ConnectionID: testConnID,
		SourceRawID:  10,
		TxnType:      models.TxnDeposit,
		BaseAsset:    models.StrPtr("BTC"),
		BaseAmount:   models.Dec(decimal.RequireFromString("0.5")),
		OccurredAt:   time.Now(),
		Metadata:     []byte(`{"id":"d-1"}`),
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO normalized_entries .* ON CONFLICT \(source_raw_id\) DO UPDATE`)
	prep.ExpectQuery().
		WithArgs(
			testUserID.String(), testConnID.String(), int64(10), "deposit",
			"BTC", "0.5", nil, nil, nil, nil,
			nil, nil, nil, sqlmock.AnyArg(), `{"id":"d-1"}`, false,
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))
	mock.ExpectCommit()

	if err := NewNormalizedRepository(db).UpsertBatch(context.Background(), []*models.NormalizedEntry{entry}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID != 100 {
		t.Errorf("ID = %d, want 100", entry.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNormalizedRepositoryListWithOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	at := time.Now()
	rows := sqlmock.NewRows(normalizedRowColumns).
		AddRow(1, testUserID.String(), testConnID.String(), 10, "trade_match",
			nil, nil, nil, nil, nil, nil,
			nil, nil, "ord-1", at, []byte(`{}`), nil, true).
		AddRow(2, testUserID.String(), testConnID.String(), 11, "fee",
			"NOK", "-0.5", nil, nil, "NOK", "0.5",
			nil, nil, "ord-1", at, []byte(`{}`), int64(1), false)

	mock.ExpectQuery(`SELECT .* FROM normalized_entries\s+WHERE connection_id = \$1 AND order_id IS NOT NULL`).
		WithArgs(testConnID.String()).
		WillReturnRows(rows)

	entries, err := NewNormalizedRepository(db).ListWithOrder(context.Background(), testConnID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	match := entries[0]
	if !match.Unresolved() || !match.NeedsReview || match.MergedInto != nil {
		t.Errorf("match = %+v", match)
	}

	fee := entries[1]
	if !fee.FeeAmount.Valid || !fee.FeeAmount.Decimal.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("fee amount = %v", fee.FeeAmount)
	}
	if fee.MergedInto == nil || *fee.MergedInto != 1 {
		t.Errorf("fee merged_into = %v", fee.MergedInto)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNormalizedRepositoryListNeedsReview(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`needs_review = TRUE AND merged_into IS NULL`).
		WithArgs(testConnID.String()).
		WillReturnRows(sqlmock.NewRows(normalizedRowColumns))

	entries, err := NewNormalizedRepository(db).ListNeedsReview(context.Background(), testConnID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestNormalizedRepositorySaveEnrichment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mergedInto := int64(1)
	trade := &models.NormalizedEntry{
		ID:          1,
		TxnType:     models.TxnTradeMatch,
		BaseAsset:   models.StrPtr("BTC"),
		BaseAmount:  models.Dec(decimal.NewFromInt(2)),
		QuoteAsset:  models.StrPtr("NOK"),
		QuoteAmount: models.Dec(decimal.NewFromInt(-200)),
		FeeAsset:    models.StrPtr("NOK"),
		FeeAmount:   models.Dec(decimal.RequireFromString("0.5")),
		Price:       models.Dec(decimal.NewFromInt(100)),
	}
	fee := &models.NormalizedEntry{ID: 2, TxnType: models.TxnFee, MergedInto: &mergedInto}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`UPDATE normalized_entries SET`)
	prep.ExpectExec().
		WithArgs(int64(1), "BTC", "2", "NOK", "-200", "NOK", "0.5", "100", nil, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(int64(2), nil, nil, nil, nil, nil, nil, nil, int64(1), false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewNormalizedRepository(db).SaveEnrichment(context.Background(), []*models.NormalizedEntry{trade, fee})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNormalizedRepositoryCountLedger(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM normalized_entries WHERE connection_id = \$1 AND merged_into IS NULL`).
		WithArgs(testConnID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := NewNormalizedRepository(db).CountLedger(context.Background(), testConnID)
	if err != nil || count != 7 {
		t.Errorf("CountLedger() = %d, %v", count, err)
	}
}
