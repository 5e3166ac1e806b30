package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/pyth/memorystore"
	"pricetracker/pkg/pyth"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a bulk snapshot is served from memory.
const DefaultTTL = 500 * time.Millisecond

// sharedFetchTimeout bounds a bulk fetch shared by several LoadAll callers.
// The shared fetch is detached from any one caller's cancellation.
const sharedFetchTimeout = 10 * time.Second

var (
	// ErrNoMatches means Hermes answered but no feed matched a tracked asset.
	ErrNoMatches = errors.New("no price feeds matched tracked assets")
	// ErrUnknownAsset means the requested asset id is not in the asset table.
	ErrUnknownAsset = errors.New("unknown asset")
)

// FeedClient is the part of the Hermes REST client the loader needs.
type FeedClient interface {
	GetLatestPriceFeeds(ctx context.Context, ids []string) ([]pyth.PriceFeed, error)
}

// Quote is one upstream observation matched to a tracked asset.
type Quote struct {
	AssetID     string          `json:"coinId"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Confidence  decimal.Decimal `json:"confidence"`
	PublishTime time.Time       `json:"timestamp"`
}

// Loader fetches quotes for every tracked asset. Bulk results are cached for
// a short TTL and concurrent bulk loads share one upstream request.
type Loader struct {
	client FeedClient
	assets *memorystore.AssetStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	group singleflight.Group

	mu       sync.Mutex
	cached   []Quote
	cachedAt time.Time
}

func NewLoader(client FeedClient, assets *memorystore.AssetStore, ttl time.Duration, logger *zap.Logger) *Loader {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		client: client,
		assets: assets,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("snapshot"),
	}
}

func (l *Loader) Assets() *memorystore.AssetStore {
	return l.assets
}

// LoadAll returns quotes for every tracked asset, from memory when the last
// bulk fetch is younger than the TTL.
func (l *Loader) LoadAll(ctx context.Context) ([]Quote, error) {
	if quotes, ok := l.fresh(); ok {
		return quotes, nil
	}

	ch := l.group.DoChan("all", func() (any, error) {
		if quotes, ok := l.fresh(); ok {
			return quotes, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return l.FetchAll(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]Quote(nil), res.Val.([]Quote)...), nil
	}
}

// FetchAll always goes upstream. A Hermes 404 on the bulk request falls back
// to one request per asset in parallel, keeping only the ones that succeed.
func (l *Loader) FetchAll(ctx context.Context) ([]Quote, error) {
	ids := l.assets.FeedIDs()

	start := time.Now()
	feeds, err := l.client.GetLatestPriceFeeds(ctx, ids)
	metrics.RecordUpstream("bulk", time.Since(start), err)

	if pyth.IsNotFound(err) {
		l.logger.Warn("bulk price request not found, falling back to per-asset requests", zap.Error(err))
		feeds, err = l.fetchEach(ctx, ids)
	}
	if err != nil {
		return nil, err
	}

	quotes := l.match(feeds)
	if len(quotes) == 0 {
		return nil, ErrNoMatches
	}

	l.mu.Lock()
	l.cached = quotes
	l.cachedAt = l.now()
	l.mu.Unlock()

	return append([]Quote(nil), quotes...), nil
}

// LoadOne fetches a single asset, bypassing the bulk cache.
func (l *Loader) LoadOne(ctx context.Context, assetID string) (Quote, error) {
	asset, ok := l.assets.ByID(assetID)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}

	start := time.Now()
	feeds, err := l.client.GetLatestPriceFeeds(ctx, []string{asset.FeedID})
	metrics.RecordUpstream("single", time.Since(start), err)
	if err != nil {
		return Quote{}, err
	}

	for _, q := range l.match(feeds) {
		if q.AssetID == assetID {
			return q, nil
		}
	}
	return Quote{}, ErrNoMatches
}

func (l *Loader) fresh() ([]Quote, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached == nil || l.now().Sub(l.cachedAt) >= l.ttl {
		return nil, false
	}
	return append([]Quote(nil), l.cached...), true
}

func (l *Loader) fetchEach(ctx context.Context, ids []string) ([]pyth.PriceFeed, error) {
	results := make([][]pyth.PriceFeed, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			start := time.Now()
			feeds, err := l.client.GetLatestPriceFeeds(ctx, []string{id})
			metrics.RecordUpstream("single", time.Since(start), err)
			if err != nil {
				// one failed feed must not cancel the others
				errs[i] = fmt.Errorf("feed %s: %w", id, err)
				return nil
			}
			results[i] = feeds
			return nil
		})
	}
	_ = g.Wait()

	var feeds []pyth.PriceFeed
	for _, r := range results {
		feeds = append(feeds, r...)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("all per-asset requests failed: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		if err != nil {
			l.logger.Warn("per-asset price request failed", zap.Error(err))
		}
	}
	return feeds, nil
}

// match converts feeds into quotes in asset-table order. Unknown feed ids and
// unparsable prices are skipped.
func (l *Loader) match(feeds []pyth.PriceFeed) []Quote {
	byAsset := make(map[string]Quote, len(feeds))
	for _, f := range feeds {
		asset, ok := l.assets.ByFeedID(f.ID)
		if !ok {
			l.logger.Warn("skipping unmatched price feed", zap.String("feedId", f.ID))
			continue
		}

		price, err := f.Price.Value()
		if err != nil {
			l.logger.Warn("skipping unparsable price", zap.String("coinId", asset.ID), zap.Error(err))
			continue
		}
		conf, err := f.Price.Confidence()
		if err != nil {
			conf = decimal.Zero
		}

		byAsset[asset.ID] = Quote{
			AssetID:     asset.ID,
			Symbol:      asset.Symbol,
			Name:        asset.Name,
			Price:       price,
			Confidence:  conf,
			PublishTime: f.Price.PublishedAt(),
		}
	}

	quotes := make([]Quote, 0, len(byAsset))
	for _, id := range l.assets.IDs() {
		if q, ok := byAsset[id]; ok {
			quotes = append(quotes, q)
		}
	}
	return quotes
}
