package pyth

import "strings"

const (
	DefaultBaseURL = "https://hermes.pyth.network"
	DefaultWSURL   = "wss://hermes.pyth.network/ws"

	// LatestPriceFeedsPath is the Hermes REST endpoint taking repeated ids[] params.
	LatestPriceFeedsPath = "/api/latest_price_feeds"

	// SourceName labels prices that came from the REST feed.
	SourceName = "Pyth Network"
	// StreamSourceName labels prices that came from the WebSocket feed.
	StreamSourceName = "Pyth Network (stream)"
)

// Hermes WebSocket message types.
const (
	MessageTypeSubscribe   = "subscribe"
	MessageTypeResponse    = "response"
	MessageTypePriceUpdate = "price_update"
)

// NormalizeFeedID lowercases a feed identifier and strips an optional "0x"
// prefix so ids from config and from Hermes responses compare equal.
func NormalizeFeedID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 2 && (id[:2] == "0x" || id[:2] == "0X") {
		id = id[2:]
	}
	return strings.ToLower(id)
}
