package stream

import (
	"encoding/json"

	"pricetracker/internal/pyth/memorystore"
	"pricetracker/internal/pyth/pricecache"
	"pricetracker/pkg/pyth"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Committer stores a streamed price. *pricecache.Cache implements it.
type Committer interface {
	Set(assetID string, price decimal.Decimal, source string) pricecache.CachedPrice
}

// MakeMessageHandler returns a function that handles incoming Hermes WebSocket
// messages by matching price updates to tracked assets and committing them.
func MakeMessageHandler(logger *zap.Logger, assets *memorystore.AssetStore, cache Committer) func(msg []byte) {
	return func(msg []byte) {
		var parsed Message
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("failed to parse stream message", zap.Error(err))
			return
		}

		switch parsed.Type {
		case pyth.MessageTypeResponse:
			if parsed.Status != "success" {
				logger.Error("stream subscription rejected", zap.String("error", parsed.Error))
			}
			return
		case pyth.MessageTypePriceUpdate:
		default:
			return // Ignore anything else
		}

		if parsed.PriceFeed == nil {
			logger.Warn("price update without feed")
			return
		}
		asset, ok := assets.ByFeedID(parsed.PriceFeed.ID)
		if !ok {
			logger.Debug("skipping untracked feed", zap.String("feedId", parsed.PriceFeed.ID))
			return
		}

		price, err := parsed.PriceFeed.Price.Value()
		if err != nil {
			logger.Warn("failed to parse streamed price", zap.String("coinId", asset.ID), zap.Error(err))
			return
		}
		cache.Set(asset.ID, price, pyth.StreamSourceName)
	}
}
