package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"firisync/internal/models"
)

// NormalizedRepository - работа с таблицей normalized_entries
//
// Одна строка на сырую запись: конфликт по source_raw_id обновляет строку.
// Поглощённые комиссии не удаляются, а помечаются merged_into.
type NormalizedRepository struct {
	db *sql.DB
}

// NewNormalizedRepository создает новый экземпляр репозитория
func NewNormalizedRepository(db *sql.DB) *NormalizedRepository {
	return &NormalizedRepository{db: db}
}

const normalizedColumns = `id, user_id, connection_id, source_raw_id, txn_type,
	base_asset, base_amount, quote_asset, quote_amount, fee_asset, fee_amount,
	price, txid, order_id, occurred_at, metadata, merged_into, needs_review`

// UpsertBatch сохраняет строки и проставляет им id из базы
func (r *NormalizedRepository) UpsertBatch(ctx context.Context, entries []*models.NormalizedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO normalized_entries (user_id, connection_id, source_raw_id, txn_type,
			base_asset, base_amount, quote_asset, quote_amount, fee_asset, fee_amount,
			price, txid, order_id, occurred_at, metadata, needs_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (source_raw_id) DO UPDATE SET
			txn_type = EXCLUDED.txn_type,
			base_asset = EXCLUDED.base_asset,
			base_amount = EXCLUDED.base_amount,
			quote_asset = EXCLUDED.quote_asset,
			quote_amount = EXCLUDED.quote_amount,
			fee_asset = EXCLUDED.fee_asset,
			fee_amount = EXCLUDED.fee_amount,
			price = EXCLUDED.price,
			txid = EXCLUDED.txid,
			order_id = EXCLUDED.order_id,
			occurred_at = EXCLUDED.occurred_at,
			metadata = EXCLUDED.metadata,
			merged_into = NULL,
			needs_review = EXCLUDED.needs_review
		RETURNING id`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		err := stmt.QueryRowContext(ctx,
			e.UserID,
			e.ConnectionID,
			e.SourceRawID,
			string(e.TxnType),
			e.BaseAsset,
			e.BaseAmount,
			e.QuoteAsset,
			e.QuoteAmount,
			e.FeeAsset,
			e.FeeAmount,
			e.Price,
			e.TxID,
			e.OrderID,
			e.OccurredAt,
			jsonParam(e.Metadata),
			e.NeedsReview,
		).Scan(&e.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListWithOrder возвращает строки подключения, привязанные к ордеру
// Вход для обогащения и объединения комиссий.
func (r *NormalizedRepository) ListWithOrder(ctx context.Context, connectionID uuid.UUID) ([]*models.NormalizedEntry, error) {
	query := `SELECT ` + normalizedColumns + `
		FROM normalized_entries
		WHERE connection_id = $1 AND order_id IS NOT NULL
		ORDER BY occurred_at, id`
	return r.list(ctx, query, connectionID)
}

// ListNeedsReview возвращает незаполненные trade_match и ордера без рынка
func (r *NormalizedRepository) ListNeedsReview(ctx context.Context, connectionID uuid.UUID) ([]*models.NormalizedEntry, error) {
	query := `SELECT ` + normalizedColumns + `
		FROM normalized_entries
		WHERE connection_id = $1 AND needs_review = TRUE AND merged_into IS NULL
		ORDER BY occurred_at, id`
	return r.list(ctx, query, connectionID)
}

// SaveEnrichment записывает результат обогащения и объединения комиссий
//
// Пересчитанные поля пишутся целиком, merged_into выставляется
// заново при каждом запуске.
func (r *NormalizedRepository) SaveEnrichment(ctx context.Context, entries []*models.NormalizedEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		UPDATE normalized_entries SET
			base_asset = $2,
			base_amount = $3,
			quote_asset = $4,
			quote_amount = $5,
			fee_asset = $6,
			fee_amount = $7,
			price = $8,
			merged_into = $9,
			needs_review = $10
		WHERE id = $1`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.ID,
			e.BaseAsset,
			e.BaseAmount,
			e.QuoteAsset,
			e.QuoteAmount,
			e.FeeAsset,
			e.FeeAmount,
			e.Price,
			e.MergedInto,
			e.NeedsReview,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CountLedger возвращает количество строк журнала без поглощённых комиссий
func (r *NormalizedRepository) CountLedger(ctx context.Context, connectionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM normalized_entries WHERE connection_id = $1 AND merged_into IS NULL`,
		connectionID,
	).Scan(&count)
	return count, err
}

func (r *NormalizedRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.NormalizedEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.NormalizedEntry
	for rows.Next() {
		var (
			e          models.NormalizedEntry
			metadata   []byte
			mergedInto sql.NullInt64
		)
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.ConnectionID,
			&e.SourceRawID,
			&e.TxnType,
			&e.BaseAsset,
			&e.BaseAmount,
			&e.QuoteAsset,
			&e.QuoteAmount,
			&e.FeeAsset,
			&e.FeeAmount,
			&e.Price,
			&e.TxID,
			&e.OrderID,
			&e.OccurredAt,
			&metadata,
			&mergedInto,
			&e.NeedsReview,
		)
		if err != nil {
			return nil, err
		}
		e.Metadata = metadata
		if mergedInto.Valid {
			id := mergedInto.Int64
			e.MergedInto = &id
		}
		entries = append(entries, &e)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
