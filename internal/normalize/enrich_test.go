package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firisync/internal/models"
)

func tradeMatch(id int64, orderID string) *models.NormalizedEntry {
	return &models.NormalizedEntry{
		ID:          id,
		TxnType:     models.TxnTradeMatch,
		OrderID:     models.StrPtr(orderID),
		NeedsReview: true,
	}
}

func feeRow(id int64, orderID, amount, asset string) *models.NormalizedEntry {
	return &models.NormalizedEntry{
		ID:        id,
		TxnType:   models.TxnFee,
		OrderID:   models.StrPtr(orderID),
		FeeAmount: models.Dec(dec(amount)),
		FeeAsset:  models.StrPtr(asset),
	}
}

func orderRaws() []models.RawRecord {
	return []models.RawRecord{
		rawRecord(10, models.KindOrder, `{"id": "ord-1", "side": "bid", "amount": "2", "price": "100", "market": "BTCNOK"}`),
		rawRecord(11, models.KindOrder, `{"id": "ord-2", "side": "ask", "amount": "1", "price": "50", "market": "ETHNOK"}`),
		rawRecord(12, models.KindDeposit, `{"id": "dep-1", "amount": "1"}`),
	}
}

func TestIndexOrders(t *testing.T) {
	index := IndexOrders(orderRaws())
	assert.Len(t, index, 2)
	assert.Contains(t, index, "ord-1")
	assert.Contains(t, index, "ord-2")
}

func TestEnrichTradeMatches_UsesOrderTerms(t *testing.T) {
	match := tradeMatch(1, "ord-1")
	entries := []*models.NormalizedEntry{match}

	stats := EnrichTradeMatches(entries, IndexOrders(orderRaws()), btcnok)
	assert.Equal(t, EnrichStats{Resolved: 1}, stats)

	// Знак как у прямого ордера: bid -> base +, quote -
	assertAmount(t, "2", match.BaseAmount)
	assertAmount(t, "-200", match.QuoteAmount)
	assertAmount(t, "100", match.Price)
	assert.Equal(t, "BTC", *match.BaseAsset)
	assert.Equal(t, "NOK", *match.QuoteAsset)
	assert.False(t, match.Unresolved())
	assert.False(t, match.NeedsReview)
}

func TestEnrichTradeMatches_Unresolvable(t *testing.T) {
	noOrder := tradeMatch(1, "ord-missing")
	unknownMarket := tradeMatch(2, "ord-2") // ETHNOK нет в справочнике
	noOrderID := &models.NormalizedEntry{ID: 3, TxnType: models.TxnTradeMatch}

	entries := []*models.NormalizedEntry{noOrder, unknownMarket, noOrderID}

	var stats EnrichStats
	require.NotPanics(t, func() {
		stats = EnrichTradeMatches(entries, IndexOrders(orderRaws()), btcnok)
	})
	assert.Equal(t, EnrichStats{Unresolved: 3}, stats)

	for _, e := range entries {
		assert.True(t, e.Unresolved())
		assert.True(t, e.NeedsReview)
		assert.Nil(t, e.BaseAsset)
		assert.Nil(t, e.QuoteAsset)
		assert.False(t, e.BaseAmount.Valid)
		assert.False(t, e.QuoteAmount.Valid)
	}
}

func TestEnrichTradeMatches_IgnoresOtherTypes(t *testing.T) {
	fee := feeRow(1, "ord-1", "0.5", "NOK")
	stats := EnrichTradeMatches([]*models.NormalizedEntry{fee}, IndexOrders(orderRaws()), btcnok)

	assert.Equal(t, EnrichStats{}, stats)
	assert.Nil(t, fee.BaseAsset)
}

func TestEnrichTradeMatches_Idempotent(t *testing.T) {
	match := tradeMatch(1, "ord-1")
	index := IndexOrders(orderRaws())

	EnrichTradeMatches([]*models.NormalizedEntry{match}, index, btcnok)
	first := *match
	EnrichTradeMatches([]*models.NormalizedEntry{match}, index, btcnok)

	assert.True(t, first.BaseAmount.Decimal.Equal(match.BaseAmount.Decimal))
	assert.True(t, first.QuoteAmount.Decimal.Equal(match.QuoteAmount.Decimal))
}

func TestMergeFees_AbsorbsFeeRow(t *testing.T) {
	trade := &models.NormalizedEntry{ID: 1, TxnType: models.TxnBuy, OrderID: models.StrPtr("X")}
	fee := feeRow(2, "X", "0.5", "NOK")

	kept, absorbed := MergeFees([]*models.NormalizedEntry{trade, fee})

	require.Len(t, kept, 1)
	assert.Same(t, trade, kept[0])
	assertAmount(t, "0.5", trade.FeeAmount)
	assert.Equal(t, "NOK", *trade.FeeAsset)

	require.Len(t, absorbed, 1)
	require.NotNil(t, fee.MergedInto)
	assert.Equal(t, int64(1), *fee.MergedInto)
}

func TestMergeFees_SumsMagnitudes(t *testing.T) {
	trade := tradeMatch(1, "X")
	explicit := feeRow(2, "X", "0.5", "")
	fromBase := &models.NormalizedEntry{
		ID:         3,
		TxnType:    models.TxnFee,
		OrderID:    models.StrPtr("X"),
		BaseAsset:  models.StrPtr("BTC"),
		BaseAmount: models.Dec(dec("-0.25")),
	}

	kept, absorbed := MergeFees([]*models.NormalizedEntry{explicit, trade, fromBase})

	assert.Equal(t, []*models.NormalizedEntry{trade}, kept)
	assert.Len(t, absorbed, 2)
	assertAmount(t, "0.75", trade.FeeAmount)
	assert.Equal(t, "BTC", *trade.FeeAsset, "first non-null fee asset")
}

func TestMergeFees_NoMerge(t *testing.T) {
	accountFee := &models.NormalizedEntry{ID: 1, TxnType: models.TxnFee, FeeAmount: models.Dec(dec("1"))}
	orphanFee := feeRow(2, "Y", "0.1", "NOK")
	deposit := &models.NormalizedEntry{ID: 3, TxnType: models.TxnDeposit, OrderID: models.StrPtr("Y")}
	trade := &models.NormalizedEntry{ID: 4, TxnType: models.TxnSell, OrderID: models.StrPtr("Z")}

	entries := []*models.NormalizedEntry{accountFee, orphanFee, deposit, trade}
	kept, absorbed := MergeFees(entries)

	assert.Equal(t, entries, kept)
	assert.Empty(t, absorbed)
	assert.False(t, trade.FeeAmount.Valid)
	assert.Nil(t, orphanFee.MergedInto)
}

func TestMergeFees_RecomputedNotAccumulated(t *testing.T) {
	trade := &models.NormalizedEntry{ID: 1, TxnType: models.TxnBuy, OrderID: models.StrPtr("X")}
	fee := feeRow(2, "X", "0.5", "NOK")

	MergeFees([]*models.NormalizedEntry{trade, fee})
	kept, _ := MergeFees([]*models.NormalizedEntry{trade, fee})

	require.Len(t, kept, 1)
	assertAmount(t, "0.5", trade.FeeAmount)
}

func TestPipeline_Idempotent(t *testing.T) {
	raws := []models.RawRecord{
		rawRecord(1, models.KindTransaction, `{"id": 1, "type": "Match", "amount": "2", "currency": "BTC", "details": {"order_id": "ord-1"}}`),
		rawRecord(2, models.KindTransaction, `{"id": 2, "type": "MatchFee", "amount": "-1", "currency": "NOK", "details": {"order_id": "ord-1"}}`),
		rawRecord(3, models.KindDeposit, `{"id": 3, "amount": "5", "currency": "NOK"}`),
		rawRecord(10, models.KindOrder, `{"id": "ord-1", "side": "bid", "amount": "2", "price": "100", "market": "BTCNOK"}`),
	}

	run := func() []*models.NormalizedEntry {
		var entries []*models.NormalizedEntry
		for _, raw := range raws {
			if res := Normalize(raw, btcnok); res.Entry != nil {
				res.Entry.ID = raw.ID
				entries = append(entries, res.Entry)
			}
		}
		EnrichTradeMatches(entries, IndexOrders(raws), btcnok)
		kept, _ := MergeFees(entries)
		return kept
	}

	first := run()
	second := run()

	require.Len(t, first, 3) // match (с комиссией), депозит, ордер
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].SourceRawID, second[i].SourceRawID)
		assert.Equal(t, first[i].TxnType, second[i].TxnType)
		assert.True(t, first[i].FeeAmount.Decimal.Equal(second[i].FeeAmount.Decimal))
	}
	assertAmount(t, "1", first[0].FeeAmount)
}

func TestMergeFees_FirstTradeRowChanges(t *testing.T) {
	// Прошлый запуск: ордера ещё не было, комиссия ушла в trade_match.
	// Теперь ордер раньше по времени и стоит первым в группе.
	order := &models.NormalizedEntry{ID: 5, TxnType: models.TxnBuy, OrderID: models.StrPtr("ord-1")}
	match := tradeMatch(1, "ord-1")
	match.FeeAmount = models.Dec(dec("0.5"))
	match.FeeAsset = models.StrPtr("NOK")
	fee := feeRow(2, "ord-1", "0.5", "NOK")

	kept, absorbed := MergeFees([]*models.NormalizedEntry{order, match, fee})

	require.Len(t, kept, 2)
	require.Len(t, absorbed, 1)
	assertAmount(t, "0.5", order.FeeAmount)
	assert.False(t, match.FeeAmount.Valid, "stale fee must be cleared")
	assert.Nil(t, match.FeeAsset)

	total := decimal.Zero
	for _, e := range kept {
		if e.FeeAmount.Valid {
			total = total.Add(e.FeeAmount.Decimal)
		}
	}
	assert.True(t, total.Equal(dec("0.5")), "ledger fee total %s", total)
	assert.Equal(t, int64(5), *fee.MergedInto)
}

func TestMergeFees_StaleFeeWithoutFeeRows(t *testing.T) {
	trade := &models.NormalizedEntry{ID: 1, TxnType: models.TxnSell, OrderID: models.StrPtr("X"), FeeAmount: models.Dec(dec("0.3"))}

	MergeFees([]*models.NormalizedEntry{trade})

	assert.False(t, trade.FeeAmount.Valid)
}

func TestShadowedOrders(t *testing.T) {
	resolved := tradeMatch(1, "ord-1")
	EnrichTradeMatches([]*models.NormalizedEntry{resolved}, IndexOrders(orderRaws()), btcnok)
	require.False(t, resolved.Unresolved())

	entries := []*models.NormalizedEntry{
		resolved,
		{ID: 2, TxnType: models.TxnBuy, OrderID: models.StrPtr("ord-1")},
		tradeMatch(3, "ord-2"),
		{ID: 4, TxnType: models.TxnSell, OrderID: models.StrPtr("ord-2")},
		{ID: 5, TxnType: models.TxnDeposit},
	}

	assert.Equal(t, 1, ShadowedOrders(entries))
	assert.Zero(t, ShadowedOrders(nil))
}
