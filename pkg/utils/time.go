package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// time.go - разбор временных меток биржи
//
// Firi отдаёт время в нескольких видах: RFC3339 с зоной, ISO без зоны
// (подразумевается UTC), а /time - целое число секунд Unix.

// ErrInvalidTimestamp - метку времени не удалось разобрать
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Форматы без зоны трактуются как UTC
var exchangeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseExchangeTime разбирает строковую метку времени биржи
//
// Поддерживаются форматы из exchangeLayouts и числа: секунды
// или миллисекунды Unix (больше 1e12 считаются миллисекундами).
func ParseExchangeTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, ErrInvalidTimestamp
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return FromUnix(n), nil
	}

	for _, layout := range exchangeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTimestamp
}

// FromUnix переводит число секунд или миллисекунд Unix во время UTC
func FromUnix(n int64) time.Time {
	if n > 1e12 || n < -1e12 {
		return FromUnixMillis(n)
	}
	return time.Unix(n, 0).UTC()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}
