package normalize

import (
	"github.com/shopspring/decimal"

	"firisync/internal/exchange"
	"firisync/internal/models"
)

// OrderIndex - ордера по идентификатору биржи
type OrderIndex map[string]*exchange.OrderPayload

// IndexOrders строит индекс ордеров из сырых записей
// Записи других типов и нечитаемые ордера пропускаются.
func IndexOrders(raws []models.RawRecord) OrderIndex {
	index := make(OrderIndex, len(raws))
	for _, raw := range raws {
		if raw.Kind != models.KindOrder {
			continue
		}
		payload, err := exchange.DecodePayload(models.KindOrder, raw.Payload)
		if err != nil {
			continue
		}
		order := payload.(*exchange.OrderPayload)
		index[order.ProviderID()] = order
	}
	return index
}

// EnrichStats - итог прохода обогащения
type EnrichStats struct {
	Resolved   int
	Unresolved int
}

// EnrichTradeMatches заполняет trade_match условиями ордера
//
// Условия (сторона, объём, цена) берутся только из ордера. Без ордера
// или с неизвестным рынком строка остаётся незаполненной и помечается
// NeedsReview - это допустимое конечное состояние, не ошибка.
// Строки других типов не изменяются.
func EnrichTradeMatches(entries []*models.NormalizedEntry, orders OrderIndex, markets models.Markets) EnrichStats {
	var stats EnrichStats

	for _, entry := range entries {
		if entry.TxnType != models.TxnTradeMatch {
			continue
		}

		order, ok := lookupOrder(entry, orders)
		if !ok {
			entry.NeedsReview = true
			stats.Unresolved++
			continue
		}

		info, ok := resolveMarket(order, markets)
		if !ok {
			entry.NeedsReview = true
			stats.Unresolved++
			continue
		}

		applyOrderTerms(entry, order, info)
		stats.Resolved++
	}

	return stats
}

func lookupOrder(entry *models.NormalizedEntry, orders OrderIndex) (*exchange.OrderPayload, bool) {
	if !entry.HasOrder() {
		return nil, false
	}
	order, ok := orders[*entry.OrderID]
	return order, ok && order != nil
}

// MergeFees вливает комиссии в строку сделки того же ордера
//
// Для каждого order_id, где есть строка сделки (trade_match/buy/sell)
// и строки fee: сумма модулей комиссий записывается в FeeAmount первой
// строки сделки, FeeAsset - первый непустой актив комиссии. Поглощённые
// строки исключаются из результата и помечаются MergedInto.
// Строки без order_id не объединяются никогда.
//
// Комиссия пересчитывается с нуля: у всех строк сделок с order_id
// FeeAmount/FeeAsset сбрасываются до записи суммы. Строки сделок
// собственной комиссии не несут, её источник - только строки fee.
//
// Возвращает оставшиеся строки (порядок входа сохраняется) и поглощённые.
func MergeFees(entries []*models.NormalizedEntry) (kept, absorbed []*models.NormalizedEntry) {
	type group struct {
		trade *models.NormalizedEntry
		fees  []*models.NormalizedEntry
	}

	groups := make(map[string]*group)
	for _, entry := range entries {
		if entry.TxnType == models.TxnFee {
			entry.MergedInto = nil
		}
		if !entry.HasOrder() {
			continue
		}

		g, ok := groups[*entry.OrderID]
		if !ok {
			g = &group{}
			groups[*entry.OrderID] = g
		}

		switch {
		case entry.TxnType.IsTradeLike():
			entry.FeeAmount = decimal.NullDecimal{}
			entry.FeeAsset = nil
			if g.trade == nil {
				g.trade = entry
			}
		case entry.TxnType == models.TxnFee:
			g.fees = append(g.fees, entry)
		}
	}

	merged := make(map[*models.NormalizedEntry]bool)
	for _, g := range groups {
		if g.trade == nil || len(g.fees) == 0 {
			continue
		}

		total := feeMagnitude(g.fees[0])
		var asset *string
		for i, fee := range g.fees {
			if i > 0 {
				total = total.Add(feeMagnitude(fee))
			}
			if asset == nil {
				asset = feeAsset(fee)
			}
			if g.trade.ID != 0 {
				id := g.trade.ID
				fee.MergedInto = &id
			}
			merged[fee] = true
		}

		g.trade.FeeAmount = models.Dec(total)
		g.trade.FeeAsset = asset
	}

	kept = make([]*models.NormalizedEntry, 0, len(entries))
	for _, entry := range entries {
		if merged[entry] {
			absorbed = append(absorbed, entry)
			continue
		}
		kept = append(kept, entry)
	}
	return kept, absorbed
}

// feeMagnitude - явная сумма комиссии, иначе модуль базовой суммы
func feeMagnitude(fee *models.NormalizedEntry) decimal.Decimal {
	if fee.FeeAmount.Valid {
		return fee.FeeAmount.Decimal.Abs()
	}
	if fee.BaseAmount.Valid {
		return fee.BaseAmount.Decimal.Abs()
	}
	return decimal.Zero
}

func feeAsset(fee *models.NormalizedEntry) *string {
	if fee.FeeAsset != nil && *fee.FeeAsset != "" {
		return fee.FeeAsset
	}
	if fee.BaseAsset != nil && *fee.BaseAsset != "" {
		return fee.BaseAsset
	}
	return nil
}

// ShadowedOrders считает строки ордеров (buy/sell), чей order_id уже
// представлен заполненной строкой trade_match
//
// Такие пары отражают один и тот же поток base/quote дважды;
// отчётность может исключить одну из строк по order_id.
func ShadowedOrders(entries []*models.NormalizedEntry) int {
	resolved := make(map[string]bool)
	for _, entry := range entries {
		if entry.TxnType == models.TxnTradeMatch && entry.HasOrder() && !entry.Unresolved() {
			resolved[*entry.OrderID] = true
		}
	}

	shadowed := 0
	for _, entry := range entries {
		if (entry.TxnType == models.TxnBuy || entry.TxnType == models.TxnSell) &&
			entry.HasOrder() && resolved[*entry.OrderID] {
			shadowed++
		}
	}
	return shadowed
}
