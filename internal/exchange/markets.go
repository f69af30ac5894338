package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"firisync/internal/models"
	"firisync/pkg/utils"
)

// DefaultMarketTTL - время жизни справочника рынков
const DefaultMarketTTL = 10 * time.Minute

// marketRefreshTimeout ограничивает общий запрос справочника.
// Он не зависит от контекста первого вызвавшего.
const marketRefreshTimeout = 30 * time.Second

// MarketFetcher - источник списка рынков (*Client)
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, creds models.Credentials) ([]MarketPayload, error)
}

type marketSnapshot struct {
	markets   models.Markets
	fetchedAt time.Time
}

// Directory - кэш справочника рынков, общий для всех синхронизаций процесса
//
// Чтение без блокировок (атомарный снимок). Обновление single-flight:
// параллельные промахи делают один запрос. Кэш заменяется целиком.
// При ошибке обновления отдаётся устаревший снимок, если он есть.
type Directory struct {
	fetcher MarketFetcher
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	group    singleflight.Group
	snapshot atomic.Pointer[marketSnapshot]
}

// NewDirectory создаёт пустой справочник
func NewDirectory(fetcher MarketFetcher, ttl time.Duration, logger *zap.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultMarketTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger.Named("markets"),
		now:     time.Now,
	}
}

// Initialize прогревает кэш. Нужен до синхронизации ордеров.
func (d *Directory) Initialize(ctx context.Context, creds models.Credentials) error {
	_, err := d.GetMarkets(ctx, creds)
	return err
}

// GetMarkets возвращает справочник, обновляя его по истечении TTL
func (d *Directory) GetMarkets(ctx context.Context, creds models.Credentials) (models.Markets, error) {
	if snap := d.snapshot.Load(); snap != nil && d.fresh(snap) {
		return snap.markets, nil
	}

	// Отмена одного ожидающего не должна ронять обновление для остальных
	ch := d.group.DoChan("markets", func() (interface{}, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), marketRefreshTimeout)
		defer cancel()
		return d.refresh(refreshCtx, creds)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(models.Markets), nil
	}
}

// GetMarket ищет рынок в текущем снимке без сетевых запросов
func (d *Directory) GetMarket(id string) (models.MarketInfo, bool) {
	snap := d.snapshot.Load()
	if snap == nil {
		return models.MarketInfo{}, false
	}
	return snap.markets.Lookup(id)
}

// Snapshot возвращает текущий снимок (может быть устаревшим или nil)
func (d *Directory) Snapshot() models.Markets {
	snap := d.snapshot.Load()
	if snap == nil {
		return nil
	}
	return snap.markets
}

func (d *Directory) fresh(snap *marketSnapshot) bool {
	return !snap.fetchedAt.IsZero() && d.now().Sub(snap.fetchedAt) < d.ttl
}

func (d *Directory) refresh(ctx context.Context, creds models.Credentials) (models.Markets, error) {
	// Другой вызов мог обновить снимок, пока ждали
	prev := d.snapshot.Load()
	if prev != nil && d.fresh(prev) {
		return prev.markets, nil
	}

	list, err := d.fetcher.FetchMarkets(ctx, creds)
	if err == nil && len(list) == 0 {
		err = ErrNoMarkets
	}
	if err != nil {
		if prev != nil {
			MarketRefreshTotal.WithLabelValues("stale").Inc()
			d.logger.Warn("market refresh failed, serving stale directory",
				utils.Count("markets", len(prev.markets)),
				zap.Error(err),
			)
			return prev.markets, nil
		}
		MarketRefreshTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrNoMarkets, err)
	}

	markets := d.build(list)
	d.snapshot.Store(&marketSnapshot{markets: markets, fetchedAt: d.now()})
	MarketRefreshTotal.WithLabelValues("ok").Inc()
	MarketsCached.Set(float64(len(markets)))
	d.logger.Info("market directory refreshed", utils.Count("markets", len(markets)))
	return markets, nil
}

// build собирает справочник, отбрасывая рынки без id/base/quote
func (d *Directory) build(list []MarketPayload) models.Markets {
	markets := make(models.Markets, len(list))
	for _, m := range list {
		id := strings.TrimSpace(m.ID)
		base := strings.TrimSpace(m.Base)
		quote := strings.TrimSpace(m.Quote)
		if id == "" || base == "" || quote == "" {
			d.logger.Warn("dropping market with missing fields",
				utils.Market(id),
				zap.Bool("has_base", base != ""),
				zap.Bool("has_quote", quote != ""),
			)
			continue
		}
		markets[id] = models.MarketInfo{ID: id, Base: base, Quote: quote}
	}
	return markets
}
