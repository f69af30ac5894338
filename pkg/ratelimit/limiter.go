package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter - sliding window rate limiter для запросов к API биржи
//
// Алгоритм:
//   - Хранятся метки времени выданных слотов за последнее окно
//   - При каждой проверке метки старше окна вытесняются
//   - Если в окне уже limit запросов, вызывающий ждёт вытеснения самой старой
//   - После получения слота дополнительно выдерживается минимальный интервал
//     между запросами (биржа режет всплески на границе окна)
//
// Использование:
//
//	limiter := NewLimiter(6, time.Second, 150*time.Millisecond)
//	if err := limiter.WaitForSlot(ctx); err != nil {
//	    return err // контекст отменён
//	}
type Limiter struct {
	limit  int
	window time.Duration

	// acquire сериализует WaitForSlot, ожидание отменяемо через ctx
	acquire chan struct{}
	// spacing - минимальный интервал между выданными слотами (burst 1)
	spacing *rate.Limiter

	mu        sync.Mutex
	stamps    []time.Time
	total     int64
	throttled int64
	waited    time.Duration
}

// Stats - снимок состояния лимитера для мониторинга
type Stats struct {
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	InWindow  int           `json:"in_window"`
	Total     int64         `json:"total"`
	Throttled int64         `json:"throttled"`
	Waited    time.Duration `json:"waited"`
}

// NewLimiter создаёт лимитер: не больше limit запросов за window,
// не чаще одного запроса в minInterval
func NewLimiter(limit int, window, minInterval time.Duration) *Limiter {
	if limit <= 0 {
		limit = 6 // лимит Firi по умолчанию
	}
	if window <= 0 {
		window = time.Second
	}

	spacing := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		spacing = rate.NewLimiter(rate.Every(minInterval), 1)
	}

	return &Limiter{
		limit:   limit,
		window:  window,
		acquire: make(chan struct{}, 1),
		spacing: spacing,
		stamps:  make([]time.Time, 0, limit),
	}
}

// evict удаляет метки старше окна
// ВАЖНО: вызывается под lock'ом
func (l *Limiter) evict(now time.Time) {
	i := 0
	for i < len(l.stamps) && now.Sub(l.stamps[i]) >= l.window {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// WaitForSlot блокирует до получения слота или отмены контекста
//
// Единственная мутирующая операция лимитера. Безопасна для конкурентных
// вызовов: вызывающие обслуживаются по одному.
func (l *Limiter) WaitForSlot(ctx context.Context) error {
	select {
	case l.acquire <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.acquire }()

	start := time.Now()
	throttled := false

	for {
		l.mu.Lock()
		now := time.Now()
		l.evict(now)
		if len(l.stamps) < l.limit {
			l.mu.Unlock()
			break
		}
		wait := l.window - now.Sub(l.stamps[0])
		l.mu.Unlock()

		throttled = true
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	// Cooldown после получения слота
	if err := l.spacing.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.stamps = append(l.stamps, time.Now())
	l.total++
	if throttled {
		l.throttled++
	}
	l.waited += time.Since(start)
	l.mu.Unlock()

	return nil
}

// Stats возвращает текущую статистику
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(time.Now())

	return Stats{
		Limit:     l.limit,
		Window:    l.window,
		InWindow:  len(l.stamps),
		Total:     l.total,
		Throttled: l.throttled,
		Waited:    l.waited,
	}
}

// Limit возвращает максимальное количество запросов в окне
func (l *Limiter) Limit() int {
	return l.limit
}

// Window возвращает длительность окна
func (l *Limiter) Window() time.Duration {
	return l.window
}

// ============================================================
// Registry - лимитеры по ключу учётных данных
// ============================================================

// Registry выдаёт лимитер по ключу
//
// Лимит биржи действует на API-ключ, поэтому параллельные синхронизации
// одного ключа обязаны делить лимитер. При пустом ключе используется
// общий лимитер процесса.
type Registry struct {
	limit       int
	window      time.Duration
	minInterval time.Duration

	limiters map[string]*Limiter
	mu       sync.Mutex
}

// NewRegistry создаёт реестр лимитеров с одинаковыми параметрами
func NewRegistry(limit int, window, minInterval time.Duration) *Registry {
	return &Registry{
		limit:       limit,
		window:      window,
		minInterval: minInterval,
		limiters:    make(map[string]*Limiter),
	}
}

// Get возвращает лимитер для ключа, создавая его при первом обращении
func (r *Registry) Get(key string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = NewLimiter(r.limit, r.window, r.minInterval)
		r.limiters[key] = l
	}
	return l
}

// Len возвращает количество созданных лимитеров
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
