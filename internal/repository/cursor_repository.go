package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"firisync/internal/models"
)

// CursorRepository - работа с таблицей sync_cursors
// Один курсор на (connection_id, stream).
type CursorRepository struct {
	db *sql.DB
}

// NewCursorRepository создает новый экземпляр репозитория
func NewCursorRepository(db *sql.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// GetAll возвращает сохранённые курсоры подключения
func (r *CursorRepository) GetAll(ctx context.Context, connectionID uuid.UUID) (map[models.Stream]models.SyncCursor, error) {
	query := `
		SELECT connection_id, stream, page, last_id, has_more, last_sync_at
		FROM sync_cursors
		WHERE connection_id = $1`

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursors := make(map[models.Stream]models.SyncCursor)
	for rows.Next() {
		var (
			c      models.SyncCursor
			lastID sql.NullString
			syncAt sql.NullTime
		)
		if err := rows.Scan(&c.ConnectionID, &c.Stream, &c.Page, &lastID, &c.HasMore, &syncAt); err != nil {
			return nil, err
		}
		if lastID.Valid {
			id := lastID.String
			c.LastID = &id
		}
		if syncAt.Valid {
			c.LastSyncAt = syncAt.Time
		}
		if c.Stream.Valid() {
			cursors[c.Stream] = c
		}
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return cursors, nil
}

// Save сохраняет курсоры одной транзакцией
func (r *CursorRepository) Save(ctx context.Context, cursors []models.SyncCursor) error {
	if len(cursors) == 0 {
		return nil
	}

	query := `
		INSERT INTO sync_cursors (connection_id, stream, page, last_id, has_more, last_sync_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, stream) DO UPDATE SET
			page = EXCLUDED.page,
			last_id = EXCLUDED.last_id,
			has_more = EXCLUDED.has_more,
			last_sync_at = EXCLUDED.last_sync_at`

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

	for _, c := range cursors {
		var syncAt interface{}
		if !c.LastSyncAt.IsZero() {
			syncAt = c.LastSyncAt
		}
		if _, err := stmt.ExecContext(ctx, c.ConnectionID, string(c.Stream), c.Page, c.LastID, c.HasMore, syncAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}
