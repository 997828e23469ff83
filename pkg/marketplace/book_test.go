package marketplace

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/arcadex/pkg/starknet"
)

const collection = "0x46da8955829adf2bda310099a0063451923f02e648cf25a1203aac6335cf0e4"

var now = time.Unix(1_700_000_000, 0)

func sell(id uint64, token string, price int64, expiration int64) Order {
	return Order{
		ID:         id,
		Collection: collection,
		TokenID:    token,
		Owner:      "0x1",
		Price:      big.NewInt(price),
		Quantity:   1,
		Expiration: expiration,
		Status:     StatusPlaced,
		Category:   CategorySell,
	}
}

func TestBook_ExpiredOrderStaysInRawStore(t *testing.T) {
	b := NewBook(zaptest.NewLogger(t))
	b.Apply(sell(1, "7", 100, now.Add(-time.Hour).Unix()))

	assert.Empty(t, b.CollectionOrders(collection, now))
	assert.Empty(t, b.TokenOrders(collection, "7", now))

	raw := b.Orders(collection)
	require.Contains(t, raw, "7")
	assert.Contains(t, raw["7"], uint64(1))
}

func TestBook_ActiveFilter(t *testing.T) {
	b := NewBook(zaptest.NewLogger(t))
	future := now.Add(time.Hour).Unix()

	buy := sell(2, "7", 10, future)
	buy.Category = CategoryBuy

	b.Apply(sell(1, "7", 100, future))
	b.Apply(buy)
	b.Apply(sell(3, "8", 50, future))

	active := b.CollectionOrders(collection, now)
	require.Len(t, active, 2)
	require.Len(t, active["7"], 1)
	assert.Equal(t, uint64(1), active["7"][0].ID)

	listings := b.Listings(collection, now)
	require.Len(t, listings, 2)
	assert.Equal(t, []uint64{3, 1}, []uint64{listings[0].ID, listings[1].ID}, "cheapest first")
}

func TestBook_Lifecycle(t *testing.T) {
	b := NewBook(zaptest.NewLogger(t))
	future := now.Add(time.Hour).Unix()

	b.Apply(sell(1, "0x7", 100, future))
	b.Apply(sell(2, "7", 80, future))

	orders := b.TokenOrders(collection, "7", now)
	require.Len(t, orders, 2)
	assert.Equal(t, uint64(2), orders[0].ID, "cheapest first")

	canceled := sell(1, "7", 100, future)
	canceled.Status = StatusCanceled
	b.Apply(canceled)
	assert.NotContains(t, b.Orders(collection)["7"], uint64(1))

	b.Cancel(collection, "7", 2)
	assert.Empty(t, b.Orders(collection))
	assert.Empty(t, b.Collections())

	// Cancelling an unknown order is a no-op.
	b.Cancel(collection, "7", 99)
	assert.Empty(t, b.Orders(collection))
}

func TestBook_ChecksummedKeys(t *testing.T) {
	b := NewBook(zaptest.NewLogger(t))
	future := now.Add(time.Hour).Unix()

	upper := sell(1, "1", 1, future)
	upper.Collection = "0x046DA8955829ADF2BDA310099A0063451923F02E648CF25A1203AAC6335CF0E4"
	b.Apply(upper)

	want, err := starknet.Checksum(collection)
	require.NoError(t, err)
	assert.Equal(t, []string{want}, b.Collections())
	assert.Len(t, b.Listings(collection, now), 1)
}

func TestBook_InvalidCollectionIsIgnored(t *testing.T) {
	b := NewBook(zaptest.NewLogger(t))
	bad := sell(1, "1", 1, now.Add(time.Hour).Unix())
	bad.Collection = "not-an-address"

	b.Apply(bad)
	assert.Empty(t, b.Collections())
	assert.Empty(t, b.Orders("not-an-address"))
	assert.Empty(t, b.CollectionOrders("not-an-address", now))
	assert.Nil(t, b.Sales("not-an-address"))
}

func TestBook_Sales(t *testing.T) {
	b := NewBook(zaptest.NewLogger(t))
	future := now.Add(time.Hour).Unix()
	b.Apply(sell(1, "1", 10, future))
	b.Apply(sell(2, "2", 20, future))

	b.RecordSale(Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x2", Time: 100})
	b.RecordSale(Sale{Order: sell(2, "2", 20, future), From: "0x1", To: "0x3", Time: 200})

	sales := b.Sales(collection)
	require.Len(t, sales, 2)
	assert.Equal(t, int64(200), sales[0].Time)
	assert.Empty(t, b.Listings(collection, now))

	b.Reset(collection)
	assert.Empty(t, b.Sales(collection))
}

func TestLaterSale_IndependentOfArrivalOrder(t *testing.T) {
	future := now.Add(time.Hour).Unix()
	tests := []struct {
		name string
		a, b Sale
		want Sale
	}{
		{
			name: "newer wins",
			a:    Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x2", Time: 100},
			b:    Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x2", Time: 200},
			want: Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x2", Time: 200},
		},
		{
			name: "same time breaks on buyer",
			a:    Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x2", Time: 100},
			b:    Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x3", Time: 100},
			want: Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x3", Time: 100},
		},
		{
			name: "same time and buyer breaks on seller",
			a:    Sale{Order: sell(1, "1", 10, future), From: "0x4", To: "0x2", Time: 100},
			b:    Sale{Order: sell(1, "1", 10, future), From: "0x1", To: "0x2", Time: 100},
			want: Sale{Order: sell(1, "1", 10, future), From: "0x4", To: "0x2", Time: 100},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, laterSale(tt.a, tt.b))
			assert.Equal(t, tt.want, laterSale(tt.b, tt.a))
		})
	}
}

func TestParseEnums(t *testing.T) {
	assert.Equal(t, StatusPlaced, ParseStatus("Placed"))
	assert.Equal(t, StatusNone, ParseStatus("bogus"))
	assert.Equal(t, CategorySell, ParseCategory("Sell"))
	assert.Equal(t, "Executed", StatusExecuted.String())
	assert.Equal(t, "10", TokenKey("0xa"))
	assert.Equal(t, "abc-z", TokenKey("abc-z"))
}
