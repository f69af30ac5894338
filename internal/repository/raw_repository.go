package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"firisync/internal/models"
)

// RawRepository - работа с таблицей raw_records
//
// Естественный ключ (connection_id, provider, provider_tx_id, kind):
// повторная загрузка записи обновляет payload, а не создаёт дубль.
type RawRepository struct {
	db *sql.DB
}

// NewRawRepository создает новый экземпляр репозитория
func NewRawRepository(db *sql.DB) *RawRepository {
	return &RawRepository{db: db}
}

// UpsertBatch сохраняет записи и проставляет им id из базы
func (r *RawRepository) UpsertBatch(ctx context.Context, records []models.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO raw_records (provider, connection_id, user_id, kind, provider_tx_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, provider, provider_tx_id, kind) DO UPDATE SET
			occurred_at = EXCLUDED.occurred_at,
			payload = EXCLUDED.payload
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

	for i := range records {
		rec := &records[i]
		err := stmt.QueryRowContext(ctx,
			rec.Provider,
			rec.ConnectionID,
			rec.UserID,
			string(rec.Kind),
			rec.ProviderTxID,
			rec.OccurredAt,
			jsonParam(rec.Payload),
		).Scan(&rec.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListByKinds возвращает все записи подключения указанных типов
// Используется обогащением: ордера из всех прошлых синхронизаций.
func (r *RawRepository) ListByKinds(ctx context.Context, connectionID uuid.UUID, kinds []models.RecordKind) ([]models.RawRecord, error) {
	query := `
		SELECT id, provider, connection_id, user_id, kind, provider_tx_id, occurred_at, payload
		FROM raw_records
		WHERE connection_id = $1 AND kind = ANY($2)
		ORDER BY occurred_at, id`

	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	rows, err := r.db.QueryContext(ctx, query, connectionID, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.RawRecord
	for rows.Next() {
		var (
			rec     models.RawRecord
			payload []byte
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Provider,
			&rec.ConnectionID,
			&rec.UserID,
			&rec.Kind,
			&rec.ProviderTxID,
			&rec.OccurredAt,
			&payload,
		)
		if err != nil {
			return nil, err
		}
		rec.Payload = payload
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountByConnection возвращает количество сырых записей подключения
func (r *RawRepository) CountByConnection(ctx context.Context, connectionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_records WHERE connection_id = $1`, connectionID).Scan(&count)
	return count, err
}
