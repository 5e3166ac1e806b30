package memorystore

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one tracked coin. Loaded once at startup, never mutated.
type Asset struct {
	ID     string `json:"id"`     // stable key, e.g. "bitcoin"
	Symbol string `json:"symbol"` // ticker shown to users, e.g. "BTC"
	Name   string `json:"name"`   // display name
	FeedID string `json:"feedId"` // Pyth feed identifier (hex)
	Icon   string `json:"icon"`
}

// PriceSample is a single observation kept in an asset's history window.
type PriceSample struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"` // when the observation was committed
	Source    string          `json:"source"`    // label of the feed that produced it
	Time      string          `json:"time"`      // wall-clock label for charts, e.g. "14:03:27"
}

// Baseline is the price at the start of an asset's current 24h window.
type Baseline struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
