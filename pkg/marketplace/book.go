package marketplace

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/arcadex/pkg/logging"
	"github.com/canopy-network/arcadex/pkg/starknet"
	"github.com/canopy-network/arcadex/pkg/store"
)

// Tokens is token id -> order id -> order for one collection.
type Tokens map[string]map[uint64]Order

// Book holds orders nested collection -> token -> order id, and executed sales per
// collection. Collection keys are checksummed addresses.
//
// Orders are created on a Placed event and removed on any other status or on Cancel.
// Expiration never removes an order; read views filter expired ones out.
type Book struct {
	logger *zap.Logger
	orders *store.Store[string, Tokens]
	sales  *store.Store[string, map[uint64]Sale]
}

func NewBook(logger *zap.Logger) *Book {
	return &Book{
		logger: logging.OrNop(logger),
		orders: store.New[string, Tokens](nil),
		sales:  store.New[string, map[uint64]Sale](store.MapMerger[uint64](laterSale)),
	}
}

// laterSale keeps the newest record of a sale. Ties fall back to the buyer, the seller and
// the order time so the result does not depend on arrival order.
func laterSale(a, b Sale) Sale {
	switch {
	case a.Time != b.Time:
		if b.Time > a.Time {
			return b
		}
		return a
	case a.To != b.To:
		if b.To > a.To {
			return b
		}
		return a
	case a.From != b.From:
		if b.From > a.From {
			return b
		}
		return a
	case b.Order.Time > a.Order.Time:
		return b
	}
	return a
}

// collectionKey checksums a collection address. Invalid addresses are logged and
// reported as not ok.
func (b *Book) collectionKey(collection string) (string, bool) {
	key, err := starknet.Checksum(collection)
	if err != nil {
		b.logger.Warn("Ignoring order for invalid collection address", zap.String("collection", collection), zap.Error(err))
		return "", false
	}
	return key, true
}

// Apply folds an order status event into the book.
func (b *Book) Apply(o Order) {
	key, ok := b.collectionKey(o.Collection)
	if !ok {
		return
	}
	o.Collection = key
	token := TokenKey(o.TokenID)

	if o.Status != StatusPlaced {
		b.remove(key, token, o.ID)
		return
	}

	b.orders.Update(key, func(current Tokens, _ bool) (Tokens, bool) {
		next := copyTokens(current)
		byID := make(map[uint64]Order, len(next[token])+1)
		for id, existing := range next[token] {
			byID[id] = existing
		}
		byID[o.ID] = o
		next[token] = byID
		return next, true
	})
}

// Cancel removes an order explicitly.
func (b *Book) Cancel(collection, tokenID string, orderID uint64) {
	key, ok := b.collectionKey(collection)
	if !ok {
		return
	}
	b.remove(key, TokenKey(tokenID), orderID)
}

func (b *Book) remove(key, token string, orderID uint64) {
	b.orders.Update(key, func(current Tokens, loaded bool) (Tokens, bool) {
		if !loaded {
			return nil, false
		}
		if _, ok := current[token][orderID]; !ok {
			return current, true
		}
		next := copyTokens(current)
		byID := make(map[uint64]Order, len(next[token]))
		for id, existing := range next[token] {
			if id != orderID {
				byID[id] = existing
			}
		}
		if len(byID) == 0 {
			delete(next, token)
		} else {
			next[token] = byID
		}
		return next, len(next) > 0
	})
}

func copyTokens(in Tokens) Tokens {
	out := make(Tokens, len(in)+1)
	for token, byID := range in {
		out[token] = byID
	}
	return out
}

// RecordSale stores an executed sale and drops the order it filled.
func (b *Book) RecordSale(s Sale) {
	key, ok := b.collectionKey(s.Order.Collection)
	if !ok {
		return
	}
	s.Order.Collection = key
	b.sales.Merge(key, map[uint64]Sale{s.Order.ID: s})
	b.remove(key, TokenKey(s.Order.TokenID), s.Order.ID)
}

// Orders returns every stored order of a collection regardless of status or expiration.
func (b *Book) Orders(collection string) Tokens {
	key, ok := b.collectionKey(collection)
	if !ok {
		return Tokens{}
	}
	current, _ := b.orders.Get(key)
	return copyTokens(current)
}

// CollectionOrders returns the active orders of a collection grouped by token.
func (b *Book) CollectionOrders(collection string, now time.Time) map[string][]Order {
	out := map[string][]Order{}
	for token, byID := range b.Orders(collection) {
		if active := activeOrders(byID, now); len(active) > 0 {
			out[token] = active
		}
	}
	return out
}

// TokenOrders returns the active orders for one token, cheapest first.
func (b *Book) TokenOrders(collection, tokenID string, now time.Time) []Order {
	orders := activeOrders(b.Orders(collection)[TokenKey(tokenID)], now)
	sort.SliceStable(orders, func(i, j int) bool { return cheaper(orders[i], orders[j]) })
	return orders
}

// Listings returns every active order of a collection, cheapest first.
func (b *Book) Listings(collection string, now time.Time) []Order {
	var out []Order
	for _, byID := range b.Orders(collection) {
		out = append(out, activeOrders(byID, now)...)
	}
	sort.Slice(out, func(i, j int) bool { return cheaper(out[i], out[j]) })
	return out
}

// Sales returns a collection's sales, newest first.
func (b *Book) Sales(collection string) []Sale {
	key, ok := b.collectionKey(collection)
	if !ok {
		return nil
	}
	current, _ := b.sales.Get(key)
	out := make([]Sale, 0, len(current))
	for _, s := range current {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time > out[j].Time
		}
		return out[i].Order.ID > out[j].Order.ID
	})
	return out
}

// Collections lists the collections that have stored orders.
func (b *Book) Collections() []string {
	snap := b.orders.Snapshot()
	out := make([]string, 0, len(snap))
	for key := range snap {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Reset drops a collection's orders and sales before a refetch.
func (b *Book) Reset(collection string) {
	key, ok := b.collectionKey(collection)
	if !ok {
		return
	}
	b.orders.Delete(key)
	b.sales.Delete(key)
}

func activeOrders(byID map[uint64]Order, now time.Time) []Order {
	out := make([]Order, 0, len(byID))
	for _, o := range byID {
		if o.Active(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cheaper(a, b Order) bool {
	switch {
	case a.Price == nil:
		return false
	case b.Price == nil:
		return true
	}
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}
