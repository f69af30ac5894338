package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxnType - тип канонической записи журнала
type TxnType string

const (
	TxnBuy        TxnType = "buy"
	TxnSell       TxnType = "sell"
	TxnDeposit    TxnType = "deposit"
	TxnWithdrawal TxnType = "withdrawal"
	TxnSend       TxnType = "send"
	TxnTransfer   TxnType = "transfer"
	TxnStaking    TxnType = "staking"
	TxnBonus      TxnType = "bonus"
	TxnFee        TxnType = "fee"
	TxnRebate     TxnType = "rebate"
	// TxnTradeMatch - предварительная запись, заполняется по ордеру
	TxnTradeMatch TxnType = "trade_match"
)

// IsTradeLike - запись сделки, в которую вливаются комиссии
func (t TxnType) IsTradeLike() bool {
	return t == TxnTradeMatch || t == TxnBuy || t == TxnSell
}

// NormalizedEntry - каноническая строка журнала
//
// Суммы со знаком с точки зрения пользователя: приход > 0, расход < 0.
// QuoteAmount у сделок противоположен по знаку BaseAmount.
// FeeAmount - всегда модуль.
// Одна нормализованная запись на одну сырую (SourceRawID уникален).
type NormalizedEntry struct {
	ID           int64               `json:"id" db:"id"`
	UserID       uuid.UUID           `json:"user_id" db:"user_id"`
	ConnectionID uuid.UUID           `json:"connection_id" db:"connection_id"`
	SourceRawID  int64               `json:"source_raw_id" db:"source_raw_id"`
	TxnType      TxnType             `json:"txn_type" db:"txn_type"`
	BaseAsset    *string             `json:"base_asset" db:"base_asset"`
	BaseAmount   decimal.NullDecimal `json:"base_amount" db:"base_amount"`
	QuoteAsset   *string             `json:"quote_asset" db:"quote_asset"`
	QuoteAmount  decimal.NullDecimal `json:"quote_amount" db:"quote_amount"`
	FeeAsset     *string             `json:"fee_asset" db:"fee_asset"`
	FeeAmount    decimal.NullDecimal `json:"fee_amount" db:"fee_amount"`
	Price        decimal.NullDecimal `json:"price" db:"price"`
	TxID         *string             `json:"txid,omitempty" db:"txid"`
	OrderID      *string             `json:"order_id,omitempty" db:"order_id"`
	OccurredAt   time.Time           `json:"occurred_at" db:"occurred_at"`
	Metadata     json.RawMessage     `json:"metadata,omitempty" db:"metadata"`
	// MergedInto - id записи сделки, поглотившей эту комиссию
	MergedInto  *int64 `json:"merged_into,omitempty" db:"merged_into"`
	NeedsReview bool   `json:"needs_review" db:"needs_review"`
}

// Unresolved - trade_match без заполненных сумм
func (e *NormalizedEntry) Unresolved() bool {
	return e.TxnType == TxnTradeMatch && !e.BaseAmount.Valid
}

// HasOrder - запись привязана к ордеру
func (e *NormalizedEntry) HasOrder() bool {
	return e.OrderID != nil && *e.OrderID != ""
}

// StrPtr возвращает указатель на строку, пустая строка - nil
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Dec оборачивает decimal в валидный NullDecimal
func Dec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
