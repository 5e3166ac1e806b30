package stream

import "pricetracker/pkg/pyth"

// Message is the envelope of every frame Hermes sends over /ws.
type Message struct {
	Type      string          `json:"type"`                 // "price_update" or "response"
	PriceFeed *pyth.PriceFeed `json:"price_feed,omitempty"` // set on price_update
	Status    string          `json:"status,omitempty"`     // "success" or "error" on response
	Error     string          `json:"error,omitempty"`
}
