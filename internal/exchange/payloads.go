package exchange

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"firisync/internal/models"
	"firisync/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Типизированные записи API Firi
// ============================================================

// FlexID - идентификатор, который биржа отдаёт строкой или числом
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	*f = FlexID(data)
	return nil
}

func (f FlexID) String() string {
	return string(f)
}

// Payload - типизированная сырая запись одного из трёх потоков
//
// Реализации: *TransactionPayload, *DepositPayload, *OrderPayload.
// Нормализатор выбирает ветку через type switch.
type Payload interface {
	Kind() models.RecordKind
	ProviderID() string
	Timestamp() time.Time
	isPayload()
}

// TransactionDetails - вложенные маркеры транзакции
type TransactionDetails struct {
	MatchID         FlexID `json:"match_id,omitempty"`
	OrderID         FlexID `json:"order_id,omitempty"`
	DepositID       FlexID `json:"deposit_id,omitempty"`
	WithdrawID      FlexID `json:"withdraw_id,omitempty"`
	TxID            string `json:"txid,omitempty"`
	DepositAddress  string `json:"deposit_address,omitempty"`
	WithdrawAddress string `json:"withdraw_address,omitempty"`
}

// TransactionPayload - запись /v2/history/transactions
type TransactionPayload struct {
	ID       FlexID             `json:"id"`
	Amount   decimal.Decimal    `json:"amount"`
	Currency string             `json:"currency"`
	Type     string             `json:"type"`
	Date     string             `json:"date"`
	Details  TransactionDetails `json:"details"`
}

func (p *TransactionPayload) Kind() models.RecordKind { return models.KindTransaction }
func (p *TransactionPayload) ProviderID() string      { return p.ID.String() }
func (p *TransactionPayload) Timestamp() time.Time    { return parseTime(p.Date) }
func (*TransactionPayload) isPayload()                {}

// OrderRef - идентификатор ордера, к которому относится транзакция
func (p *TransactionPayload) OrderRef() string {
	if p.Details.OrderID != "" {
		return p.Details.OrderID.String()
	}
	return p.Details.MatchID.String()
}

// DepositPayload - запись /v2/deposit/history
type DepositPayload struct {
	ID        FlexID          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt string          `json:"created_at"`
	TxID      string          `json:"txid,omitempty"`
	Address   string          `json:"address,omitempty"`
	Confirmed bool            `json:"confirmed"`
}

func (p *DepositPayload) Kind() models.RecordKind { return models.KindDeposit }
func (p *DepositPayload) ProviderID() string      { return p.ID.String() }
func (p *DepositPayload) Timestamp() time.Time    { return parseTime(p.CreatedAt) }
func (*DepositPayload) isPayload()                {}

// OrderPayload - запись /v2/history/orders
//
// MarketInfo заполняется при пагинации из справочника рынков
// и сохраняется вместе с сырой записью.
type OrderPayload struct {
	ID         FlexID             `json:"id"`
	Market     string             `json:"market"`
	Type       string             `json:"type"`
	Side       string             `json:"side,omitempty"`
	Price      decimal.Decimal    `json:"price"`
	Amount     decimal.Decimal    `json:"amount"`
	Matched    decimal.Decimal    `json:"matched"`
	Remaining  decimal.Decimal    `json:"remaining"`
	Cancelled  decimal.Decimal    `json:"cancelled"`
	CreatedAt  string             `json:"created_at"`
	MarketInfo *models.MarketInfo `json:"market_info,omitempty"`
}

func (p *OrderPayload) Kind() models.RecordKind { return models.KindOrder }
func (p *OrderPayload) ProviderID() string      { return p.ID.String() }
func (p *OrderPayload) Timestamp() time.Time    { return parseTime(p.CreatedAt) }
func (*OrderPayload) isPayload()                {}

// Стороны ордера Firi
const (
	SideBid = "bid"
	SideAsk = "ask"
)

// Direction возвращает bid/ask: поле side, иначе type
func (p *OrderPayload) Direction() string {
	side := strings.ToLower(strings.TrimSpace(p.Side))
	if side == "" {
		side = strings.ToLower(strings.TrimSpace(p.Type))
	}
	return side
}

// MarketPayload - элемент /v2/markets
type MarketPayload struct {
	ID    string `json:"id"`
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// TimePayload - ответ /time
type TimePayload struct {
	Time int64 `json:"time"`
}

func parseTime(s string) time.Time {
	t, err := utils.ParseExchangeTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ============================================================
// Декодирование
// ============================================================

// DecodePayload разбирает сырой JSON записи в типизированную форму
func DecodePayload(kind models.RecordKind, raw []byte) (Payload, error) {
	var p Payload
	switch kind {
	case models.KindTransaction:
		p = &TransactionPayload{}
	case models.KindDeposit:
		p = &DepositPayload{}
	case models.KindOrder:
		p = &OrderPayload{}
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if p.ProviderID() == "" {
		return nil, fmt.Errorf("decode %s payload: missing id", kind)
	}
	return p, nil
}

// EncodePayload сериализует запись обратно (после обогащения ордера)
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// listKeys - ключи, под которыми биржа может завернуть массив
var listKeys = []string{"data", "transactions", "deposits", "orders", "markets", "items"}

// DecodeList разбирает ответ-массив или объект с массивом внутри
func DecodeList(body []byte) ([][]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var items []jsoniter.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		out := make([][]byte, len(items))
		for i, item := range items {
			out[i] = []byte(item)
		}
		return out, nil
	}

	var wrapper map[string]jsoniter.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	for _, key := range listKeys {
		if inner, ok := wrapper[key]; ok {
			return DecodeList(inner)
		}
	}
	return nil, fmt.Errorf("decode list: response is neither array nor known wrapper")
}
