package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firisync/internal/models"
)

func TestDecodePayload_Transaction(t *testing.T) {
	raw := []byte(`{"id": 123456, "amount": "-0.5", "currency": "BTC", "type": "Match",
		"date": "2024-01-15T10:30:00.000Z", "details": {"match_id": 987, "order_id": "ord-1"}}`)

	p, err := DecodePayload(models.KindTransaction, raw)
	require.NoError(t, err)

	tx, ok := p.(*TransactionPayload)
	require.True(t, ok)
	assert.Equal(t, "123456", tx.ProviderID())
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-0.5")))
	assert.Equal(t, "BTC", tx.Currency)
	assert.Equal(t, "987", tx.Details.MatchID.String())
	assert.Equal(t, "ord-1", tx.OrderRef())
	assert.Equal(t, 2024, tx.Timestamp().Year())
	assert.Equal(t, models.KindTransaction, tx.Kind())
}

func TestDecodePayload_Deposit(t *testing.T) {
	raw := []byte(`{"id": "dep-1", "amount": "1.25", "currency": "ETH",
		"created_at": "2024-02-01T00:00:00Z", "txid": "0xabc", "confirmed": true}`)

	p, err := DecodePayload(models.KindDeposit, raw)
	require.NoError(t, err)

	dep := p.(*DepositPayload)
	assert.Equal(t, "dep-1", dep.ProviderID())
	assert.Equal(t, "0xabc", dep.TxID)
	assert.True(t, dep.Confirmed)
}

func TestDecodePayload_Order(t *testing.T) {
	raw := []byte(`{"id": 42, "market": "BTCNOK", "type": "bid", "price": "100",
		"amount": "2", "matched": "2", "remaining": "0", "cancelled": "0",
		"created_at": "2024-03-01T12:00:00Z"}`)

	p, err := DecodePayload(models.KindOrder, raw)
	require.NoError(t, err)

	order := p.(*OrderPayload)
	assert.Equal(t, "42", order.ProviderID())
	assert.Equal(t, SideBid, order.Direction())
	assert.Nil(t, order.MarketInfo)
}

func TestDecodePayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		kind models.RecordKind
		raw  string
	}{
		{"unknown kind", models.RecordKind("trade"), `{"id": 1}`},
		{"missing id", models.KindDeposit, `{"amount": "1"}`},
		{"null id", models.KindTransaction, `{"id": null}`},
		{"invalid json", models.KindOrder, `{"id": `},
		{"bad amount", models.KindDeposit, `{"id": 1, "amount": "abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.kind, []byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestOrderPayload_Direction(t *testing.T) {
	tests := []struct {
		side, typ string
		want      string
	}{
		{"bid", "", SideBid},
		{" ASK ", "", SideAsk},
		{"", "Bid", SideBid},
		{"ask", "bid", SideAsk},
		{"", "", ""},
	}

	for _, tt := range tests {
		p := &OrderPayload{Side: tt.side, Type: tt.typ}
		assert.Equal(t, tt.want, p.Direction(), "side=%q type=%q", tt.side, tt.typ)
	}
}

func TestEncodePayload_KeepsMarketInfo(t *testing.T) {
	order := &OrderPayload{
		ID:         "7",
		Market:     "ETHNOK",
		Side:       SideAsk,
		Price:      decimal.NewFromInt(20000),
		Amount:     decimal.NewFromInt(1),
		MarketInfo: &models.MarketInfo{ID: "ETHNOK", Base: "ETH", Quote: "NOK"},
	}

	raw, err := EncodePayload(order)
	require.NoError(t, err)

	p, err := DecodePayload(models.KindOrder, raw)
	require.NoError(t, err)

	decoded := p.(*OrderPayload)
	require.NotNil(t, decoded.MarketInfo)
	assert.Equal(t, "ETH", decoded.MarketInfo.Base)
	assert.Equal(t, "NOK", decoded.MarketInfo.Quote)
	assert.True(t, decoded.Price.Equal(order.Price))
}

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"array", `[{"id":1},{"id":2}]`, 2, false},
		{"empty array", `[]`, 0, false},
		{"empty body", ``, 0, false},
		{"data wrapper", `{"data":[{"id":1}]}`, 1, false},
		{"deposits wrapper", `{"count":3,"deposits":[{"id":1},{"id":2},{"id":3}]}`, 3, false},
		{"unknown wrapper", `{"result":[{"id":1}]}`, 0, true},
		{"scalar", `42`, 0, true},
		{"broken", `[{"id":1}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := DecodeList([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.want)
		})
	}
}
