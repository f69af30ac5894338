// Package normalize - приведение сырых записей Firi к каноническим строкам журнала.
//
// Три прохода:
//   - Normalize: одна сырая запись -> одна строка (или ничего)
//   - EnrichTradeMatches: trade_match заполняется условиями ордера
//   - MergeFees: комиссии ордера вливаются в строку сделки
//
// Все функции чистые: одинаковый вход даёт одинаковый результат,
// суммы комиссий пересчитываются с нуля при каждом запуске.
package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"firisync/internal/exchange"
	"firisync/internal/models"
)

// Result - итог нормализации одной записи
// Entry == nil - запись не попадает в журнал (сырая остаётся для аудита).
type Result struct {
	Entry   *models.NormalizedEntry
	Warning string
}

// Normalize приводит сырую запись к строке журнала
//
// markets нужен ордерам без прикреплённого рынка. Рынок никогда
// не угадывается по строке идентификатора.
func Normalize(raw models.RawRecord, markets models.Markets) Result {
	payload, err := exchange.DecodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return Result{Warning: fmt.Sprintf("raw %d: %v", raw.ID, err)}
	}

	entry := &models.NormalizedEntry{
		UserID:       raw.UserID,
		ConnectionID: raw.ConnectionID,
		SourceRawID:  raw.ID,
		OccurredAt:   raw.OccurredAt,
		Metadata:     raw.Payload,
	}

	switch p := payload.(type) {
	case *exchange.DepositPayload:
		fillDeposit(entry, p.Currency, p.Amount)
		entry.TxID = models.StrPtr(p.TxID)
		return Result{Entry: entry}

	case *exchange.TransactionPayload:
		return normalizeTransaction(entry, p)

	case *exchange.OrderPayload:
		return normalizeOrder(entry, p, markets)

	default:
		return Result{Warning: fmt.Sprintf("raw %d: unsupported payload %T", raw.ID, payload)}
	}
}

// ============================================================
// Транзакции
// ============================================================

// transactionTypes - тип транзакции Firi (в нижнем регистре) -> тип журнала
var transactionTypes = map[string]models.TxnType{
	"withdraw":         models.TxnWithdrawal,
	"withdrawal":       models.TxnWithdrawal,
	"deposit":          models.TxnDeposit,
	"match":            models.TxnTradeMatch,
	"trade":            models.TxnTradeMatch,
	"fee":              models.TxnFee,
	"matchfee":         models.TxnFee,
	"withdrawfee":      models.TxnFee,
	"bonus":            models.TxnBonus,
	"rebate":           models.TxnRebate,
	"feerefund":        models.TxnRebate,
	"stake":            models.TxnStaking,
	"staking":          models.TxnStaking,
	"internaltransfer": models.TxnTransfer,
	"transfer":         models.TxnTransfer,
	"send":             models.TxnSend,
}

// classifyTransaction определяет тип по строке type, иначе по маркерам details
func classifyTransaction(p *exchange.TransactionPayload) (models.TxnType, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p.Type), "_", ""))
	if t, ok := transactionTypes[key]; ok {
		return t, true
	}

	d := p.Details
	switch {
	case d.WithdrawID != "" || d.WithdrawAddress != "":
		return models.TxnWithdrawal, true
	case d.DepositID != "" || d.DepositAddress != "":
		return models.TxnDeposit, true
	case d.MatchID != "":
		return models.TxnTradeMatch, true
	}
	return "", false
}

func normalizeTransaction(entry *models.NormalizedEntry, p *exchange.TransactionPayload) Result {
	txnType, ok := classifyTransaction(p)
	if !ok {
		return Result{Warning: fmt.Sprintf("raw %d: unrecognized transaction type %q", entry.SourceRawID, p.Type)}
	}

	entry.TxnType = txnType
	entry.TxID = models.StrPtr(p.Details.TxID)
	asset := models.StrPtr(strings.ToUpper(p.Currency))
	amount := p.Amount

	switch txnType {
	case models.TxnDeposit:
		fillDeposit(entry, p.Currency, amount)

	case models.TxnWithdrawal, models.TxnSend:
		entry.BaseAsset = asset
		entry.BaseAmount = models.Dec(amount.Abs().Neg())

	case models.TxnTradeMatch:
		// Условия сделки берутся из ордера при обогащении
		entry.OrderID = models.StrPtr(p.OrderRef())
		entry.NeedsReview = true

	case models.TxnFee:
		entry.BaseAsset = asset
		entry.BaseAmount = models.Dec(amount.Abs().Neg())
		entry.FeeAsset = asset
		entry.FeeAmount = models.Dec(amount.Abs())
		entry.OrderID = models.StrPtr(p.OrderRef())

	case models.TxnBonus, models.TxnRebate:
		entry.BaseAsset = asset
		entry.BaseAmount = models.Dec(amount.Abs())

	default:
		// staking, transfer: знак как у биржи
		entry.BaseAsset = asset
		entry.BaseAmount = models.Dec(amount)
	}

	return Result{Entry: entry}
}

func fillDeposit(entry *models.NormalizedEntry, currency string, amount decimal.Decimal) {
	entry.TxnType = models.TxnDeposit
	entry.BaseAsset = models.StrPtr(strings.ToUpper(currency))
	entry.BaseAmount = models.Dec(amount.Abs())
}

// ============================================================
// Ордера
// ============================================================

func normalizeOrder(entry *models.NormalizedEntry, p *exchange.OrderPayload, markets models.Markets) Result {
	entry.TxnType = models.TxnSell
	if p.Direction() == exchange.SideBid {
		entry.TxnType = models.TxnBuy
	}
	entry.OrderID = models.StrPtr(p.ProviderID())
	entry.Price = models.Dec(p.Price)

	info, ok := resolveMarket(p, markets)
	if !ok {
		entry.NeedsReview = true
		return Result{
			Entry:   entry,
			Warning: fmt.Sprintf("order %s: unknown market %q", p.ProviderID(), p.Market),
		}
	}

	applyOrderTerms(entry, p, info)
	return Result{Entry: entry}
}

// resolveMarket - рынок, прикреплённый при пагинации, иначе справочник
func resolveMarket(p *exchange.OrderPayload, markets models.Markets) (models.MarketInfo, bool) {
	if p.MarketInfo != nil && p.MarketInfo.Base != "" && p.MarketInfo.Quote != "" {
		return *p.MarketInfo, true
	}
	return markets.Lookup(p.Market)
}

// applyOrderTerms заполняет суммы по условиям ордера
//
// bid: base приходит (+), quote уходит (-); ask - наоборот.
func applyOrderTerms(entry *models.NormalizedEntry, p *exchange.OrderPayload, info models.MarketInfo) {
	base := p.Amount.Abs()
	quote := p.Amount.Mul(p.Price).Abs()
	if p.Direction() != exchange.SideBid {
		base = base.Neg()
	} else {
		quote = quote.Neg()
	}

	entry.BaseAsset = models.StrPtr(info.Base)
	entry.BaseAmount = models.Dec(base)
	entry.QuoteAsset = models.StrPtr(info.Quote)
	entry.QuoteAmount = models.Dec(quote)
	entry.Price = models.Dec(p.Price)
	entry.NeedsReview = false
}
