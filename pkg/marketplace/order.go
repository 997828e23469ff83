// Package marketplace keeps the in-memory order book built from marketplace indexer events.
package marketplace

import (
	"fmt"
	"math/big"
	"time"

	"github.com/canopy-network/arcadex/pkg/starknet"
)

// Status is the lifecycle state of an order.
type Status uint8

const (
	StatusNone Status = iota
	StatusPlaced
	StatusCanceled
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusPlaced:
		return "Placed"
	case StatusCanceled:
		return "Canceled"
	case StatusExecuted:
		return "Executed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ParseStatus maps the indexer's enum variant name to a Status.
func ParseStatus(v string) Status {
	switch v {
	case "Placed":
		return StatusPlaced
	case "Canceled":
		return StatusCanceled
	case "Executed":
		return StatusExecuted
	default:
		return StatusNone
	}
}

// Category tells buy orders (offers) from sell orders (listings).
type Category uint8

const (
	CategoryNone Category = iota
	CategoryBuy
	CategorySell
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "None"
	case CategoryBuy:
		return "Buy"
	case CategorySell:
		return "Sell"
	default:
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
}

// ParseCategory maps the indexer's enum variant name to a Category.
func ParseCategory(v string) Category {
	switch v {
	case "Buy":
		return CategoryBuy
	case "Sell":
		return CategorySell
	default:
		return CategoryNone
	}
}

// Order is a marketplace order. Price is a u128 amount in Currency's smallest unit.
type Order struct {
	ID         uint64   `json:"id"`
	Collection string   `json:"collection"`
	TokenID    string   `json:"tokenId"`
	Owner      string   `json:"owner"`
	Currency   string   `json:"currency"`
	Price      *big.Int `json:"price"`
	Quantity   uint64   `json:"quantity"`
	Expiration int64    `json:"expiration"`
	Status     Status   `json:"status"`
	Category   Category `json:"category"`
	Time       int64    `json:"time"`
}

// Active reports whether the order is a live listing at now.
func (o Order) Active(now time.Time) bool {
	return o.Status == StatusPlaced && o.Category == CategorySell && o.Expiration > now.Unix()
}

// Sale is an executed order.
type Sale struct {
	Order Order  `json:"order"`
	From  string `json:"from"`
	To    string `json:"to"`
	Time  int64  `json:"time"`
}

// TokenKey canonicalizes a token id felt to decimal so "0x0a" and "10" address the same
// token. Unparsable ids are used as is.
func TokenKey(id string) string {
	n, err := starknet.ParseFelt(id)
	if err != nil {
		return id
	}
	return n.String()
}
