package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"firisync/internal/models"
	"firisync/pkg/crypto"
)

// ConnectionRepository - работа с таблицей exchange_connections
//
// Зашифрованный секрет пишется через текстовый литерал bytea (\x<hex>)
// и читается через crypto.FromWire: драйвер может отдать колонку
// байтами или строкой.
type ConnectionRepository struct {
	db *sql.DB
}

// NewConnectionRepository создает новый экземпляр репозитория
func NewConnectionRepository(db *sql.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, exchange, api_key, client_id, encrypted_secret, last_sync_at, COALESCE(last_error, ''), created_at, updated_at`

// Upsert создаёт подключение или заменяет ключи существующего
// Один активный набор ключей на (user_id, exchange).
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *models.ExchangeConnection) error {
	query := `
		INSERT INTO exchange_connections (id, user_id, exchange, api_key, client_id, encrypted_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::bytea, $7, $7)
		ON CONFLICT (user_id, exchange) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			client_id = EXCLUDED.client_id,
			encrypted_secret = EXCLUDED.encrypted_secret,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	now := time.Now().UTC()

	err := r.db.QueryRowContext(ctx, query,
		conn.ID,
		conn.UserID,
		conn.Exchange,
		conn.APIKey,
		conn.ClientID,
		crypto.ToWire(conn.EncryptedSecret),
		now,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConnectionExists
		}
		return err
	}
	conn.LastError = ""
	return nil
}

// GetByID возвращает подключение по ID
func (r *ConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ExchangeConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM exchange_connections WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// UpdateSyncStatus фиксирует время и ошибку последней синхронизации
func (r *ConnectionRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, syncedAt time.Time, lastError string) error {
	query := `
		UPDATE exchange_connections
		SET last_sync_at = $2, last_error = $3, updated_at = $2
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, syncedAt, nullString(lastError))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (r *ConnectionRepository) scanOne(row *sql.Row) (*models.ExchangeConnection, error) {
	conn := &models.ExchangeConnection{}
	var (
		secret     interface{}
		lastSyncAt sql.NullTime
	)

	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Exchange,
		&conn.APIKey,
		&conn.ClientID,
		&secret,
		&lastSyncAt,
		&conn.LastError,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}

	conn.EncryptedSecret, err = crypto.FromWire(secret)
	if err != nil {
		return nil, fmt.Errorf("connection %s: encrypted secret: %w", conn.ID, err)
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		conn.LastSyncAt = &t
	}
	return conn, nil
}
