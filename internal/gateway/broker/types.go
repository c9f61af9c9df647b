// Package broker defines the normalized view of the upstream brokerage:
// domain types, the capability contract the sync core depends on, and
// the typed error taxonomy for penalty and rate-limit signals.
package broker

import "strings"

// DataKind identifies one of the per-account cached datasets.
type DataKind string

const (
	KindBalance   DataKind = "balance"
	KindPositions DataKind = "positions"
	KindOrders    DataKind = "orders"
)

// Kinds lists all data kinds in refresh order.
var Kinds = []DataKind{KindBalance, KindPositions, KindOrders}

// Account is a brokerage trading account as reported upstream. The
// core never creates or deletes accounts, it only observes them.
type Account struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Balance is a cash/margin snapshot for one account.
type Balance struct {
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`
	Margin         float64 `json:"margin"`
	AvailableFunds float64 `json:"availableFunds"`
	DayPnL         float64 `json:"dayPnL"`
}

// Position is a net contract position.
type Position struct {
	ContractID    int64   `json:"contractId"`
	Symbol        string  `json:"symbol"`
	NetPos        int     `json:"netPos"`
	NetPrice      float64 `json:"netPrice"`
	UnrealizedPnL float64 `json:"unrealizedPnL"`
}

// Open reports whether the position carries a non-zero net quantity.
func (p Position) Open() bool { return p.NetPos != 0 }

// Order is the single normalized order shape used everywhere downstream.
// The upstream API exposes different field names depending on the order's
// enrichment stage; the tradovate mapper flattens all of them into this
// struct once at ingestion.
type Order struct {
	ID         int64    `json:"id"`
	AccountID  int64    `json:"accountId"`
	ContractID int64    `json:"contractId"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	OrderType  string   `json:"orderType"`
	Status     string   `json:"status"`
	Quantity   int      `json:"qty"`
	Price      *float64 `json:"price,omitempty"`
	LimitPrice *float64 `json:"limitPrice,omitempty"`
	StopPrice  *float64 `json:"stopPrice,omitempty"`
	LinkedID   *int64   `json:"linkedId,omitempty"`
	ParentID   *int64   `json:"parentId,omitempty"`
	OCOID      *int64   `json:"ocoId,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// Working reports whether the order is still eligible to fill.
func (o Order) Working() bool {
	switch strings.ToLower(strings.TrimSpace(o.Status)) {
	case "filled", "cancelled", "canceled", "rejected", "expired":
		return false
	default:
		return true
	}
}

// EffectiveLimit returns the order's limit price, falling back to the
// plain price field some endpoints use for limit orders.
func (o Order) EffectiveLimit() *float64 {
	if o.LimitPrice != nil {
		return o.LimitPrice
	}
	return o.Price
}

// CountOpenPositions returns the number of positions with non-zero net
// quantity.
func CountOpenPositions(positions []Position) int {
	n := 0
	for _, p := range positions {
		if p.Open() {
			n++
		}
	}
	return n
}

// CountWorkingOrders returns the number of orders still eligible to fill.
func CountWorkingOrders(orders []Order) int {
	n := 0
	for _, o := range orders {
		if o.Working() {
			n++
		}
	}
	return n
}
