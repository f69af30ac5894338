package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config конфигурация для retry логики
//
// Экспоненциальный backoff с jitter:
// delay = min(InitialDelay * Multiplier^attempt ± jitter, MaxDelay)
//
// Расписание считает backoff.ExponentialBackOff, здесь только
// классификация ошибок, подсказки сервера и отмена по контексту.
type Config struct {
	// MaxRetries - количество повторов после первой попытки
	// 0 = без повторов
	MaxRetries int

	// InitialDelay - задержка перед первым повтором
	// По умолчанию: 500ms
	InitialDelay time.Duration

	// MaxDelay - потолок задержки по расписанию
	// По умолчанию: 10s
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста
	// По умолчанию: 2.0
	Multiplier float64

	// JitterFactor - разброс задержки (0.1 = ±10%)
	JitterFactor float64

	// RetryIf - нужно ли повторять ошибку
	// По умолчанию: IsRetryable
	RetryIf func(error) bool

	// OnRetry - callback перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig возвращает конфигурацию по умолчанию
//
// - 4 повтора
// - Задержки: 500ms, 1s, 2s, 4s (±10%)
// - Максимум 10 секунд ожидания
func DefaultConfig() Config {
	return Config{
		MaxRetries:   4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

// newSchedule создаёт расписание задержек для одного вызова Do
func (c *Config) newSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.JitterFactor
	b.Reset()
	return b
}

// nextDelay - следующая задержка с учётом подсказки из ошибки
func (c *Config) nextDelay(schedule *backoff.ExponentialBackOff, err error) time.Duration {
	delay := schedule.NextBackOff()
	if delay == backoff.Stop || delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	var hint DelayHint
	if errors.As(err, &hint) {
		delay = hint.RetryDelay(delay)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Do выполняет операцию с повторными попытками
//
// Возвращает nil при успехе, иначе последнюю ошибку.
// Отмена контекста прерывает ожидание между попытками.
//
// Пример:
//
//	err := retry.Do(ctx, func() error {
//	    return client.fetchPage(...)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, operation func() error, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
//
//	body, err := retry.DoWithResult(ctx, func() ([]byte, error) {
//	    return client.get(...)
//	}, cfg)
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, error) {
	cfg.validate()
	schedule := cfg.newSchedule()

	var (
		zero    T
		lastErr error
	)

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		result, err := operation()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.nextDelay(schedule, err)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError интерфейс для ошибок которые знают, можно ли их повторять
type RetryableError interface {
	error
	Retryable() bool
}

// DelayHint - ошибка, которая сама корректирует задержку перед повтором
// (например, ответ 429 с заголовком Retry-After)
type DelayHint interface {
	error
	RetryDelay(scheduled time.Duration) time.Duration
}

// IsRetryable проверяет можно ли retry'ить ошибку
//
// Ошибки контекста не повторяются никогда. Ошибка с Retryable()
// решает сама. Остальные считаются временными.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	return true
}

// ============================================================
// Wrapper errors
// ============================================================

// PermanentError оборачивает ошибку которую не нужно retry'ить
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func (e *PermanentError) Retryable() bool {
	return false
}

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку которую нужно retry'ить
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string {
	return e.Err.Error()
}

func (e *TemporaryError) Unwrap() error {
	return e.Err
}

func (e *TemporaryError) Retryable() bool {
	return true
}

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

// AfterError - временная ошибка с подсказкой сервера и фиксированным cooldown
//
// After > 0: ждём ровно столько, сколько просит сервер.
// After == 0: используем задержку по расписанию.
// Cooldown добавляется в обоих случаях.
type AfterError struct {
	Err      error
	After    time.Duration
	Cooldown time.Duration
}

func (e *AfterError) Error() string {
	return e.Err.Error()
}

func (e *AfterError) Unwrap() error {
	return e.Err
}

func (e *AfterError) Retryable() bool {
	return true
}

// RetryDelay реализует DelayHint
func (e *AfterError) RetryDelay(scheduled time.Duration) time.Duration {
	if e.After > 0 {
		return e.After + e.Cooldown
	}
	return scheduled + e.Cooldown
}

// RetryAfter оборачивает ошибку подсказкой о задержке
func RetryAfter(err error, after, cooldown time.Duration) error {
	if err == nil {
		return nil
	}
	return &AfterError{Err: err, After: after, Cooldown: cooldown}
}
