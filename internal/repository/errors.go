package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Ошибки репозиториев
var (
	ErrConnectionNotFound = errors.New("exchange connection not found")
	ErrConnectionExists   = errors.New("exchange connection already exists")
)

// pgUniqueViolation - SQLSTATE нарушения уникальности
const pgUniqueViolation = "23505"

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, pgUniqueViolation)
}

// rollback откатывает транзакцию, если она не была зафиксирована
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

// nullString - пустая строка как NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonParam - jsonb передаётся строкой: []byte lib/pq кодирует как bytea
func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
