// Package domain defines the core types shared across the order replication
// engine: observed target orders, their classification, follower bots, and
// replication outcomes, together with the store and cache interfaces the
// infrastructure layers implement.
package domain

import "time"

// OrderEvent is one order observed on the venue's live feed for a monitored
// target. It is immutable once parsed off the wire; only its OrderID is
// retained after dispatch (for deduplication).
type OrderEvent struct {
	OrderID        string
	ProfileAddress string // venue-internal account the order belongs to
	MarketID       string
	OrderTypeCode  int
	Price          string // decimal string, as delivered by the venue
	Size           string // decimal string, as delivered by the venue
	Leverage       int
	Status         string
	Timestamp      time.Time
}

// OrderClassification is the semantic reading of an OrderEvent's type code.
// For a recognized code exactly one of IsBuy/IsSell/IsExit is true and
// exactly one of IsLong/IsShort is true. The zero value means "unrecognized
// code" and callers must skip replication for it.
type OrderClassification struct {
	IsBuy  bool
	IsSell bool
	IsExit bool

	IsLong  bool
	IsShort bool

	IsMarket bool
	IsLimit  bool
	IsStop   bool
}

// Known reports whether the classification belongs to a recognized order
// type code.
func (c OrderClassification) Known() bool {
	return c.IsBuy || c.IsSell || c.IsExit
}

// OrderRequest is the replicated trade instruction derived from a classified
// OrderEvent and a follower's sizing policy. It maps directly onto the
// venue's order-construction endpoints.
type OrderRequest struct {
	MarketID  string
	TradeSide bool // true = long side
	Direction bool // true = close an existing position, false = open
	Size      float64
	Price     float64 // zero for market orders
	Leverage  int
	Market    bool // market-order vs limit-order construction
}
