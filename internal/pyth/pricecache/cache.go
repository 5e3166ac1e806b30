package pricecache

import (
	"sync"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/pyth/memorystore"
	"pricetracker/pkg/pyth"
	"pricetracker/pkg/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultBaselineKey    = "crypto_day_start_prices"
	DefaultHistoryKey     = "crypto_price_history"
	DefaultPersistTimeout = 2 * time.Second

	// TimeLabelLayout formats the chart label stored with every sample.
	TimeLabelLayout = "15:04:05"
)

// CachedPrice is the current observation for one asset. Entries are replaced
// wholesale on every commit.
type CachedPrice struct {
	AssetID           string           `json:"coinId"`
	Price             decimal.Decimal  `json:"price"`
	Timestamp         time.Time        `json:"timestamp"`
	Source            string           `json:"source"`
	DayStartPrice     *decimal.Decimal `json:"dayStartPrice,omitempty"`
	DayStartTimestamp *time.Time       `json:"dayStartTimestamp,omitempty"`
}

// ChangePercent returns the change against the day-start price in percent.
// ok is false when there is no usable baseline.
func (p CachedPrice) ChangePercent() (decimal.Decimal, bool) {
	if p.DayStartPrice == nil || p.DayStartPrice.IsZero() {
		return decimal.Zero, false
	}
	return p.Price.Sub(*p.DayStartPrice).Div(*p.DayStartPrice).Mul(decimal.NewFromInt(100)), true
}

// BaselineExpired reports whether the day-start baseline no longer covers now.
// Reads never rebaseline; the next commit for the asset does.
func (p CachedPrice) BaselineExpired(now time.Time, window time.Duration) bool {
	if p.DayStartTimestamp == nil {
		return true
	}
	return now.Sub(*p.DayStartTimestamp) >= window
}

// Update is one entry of a bulk commit. A non-zero Seq makes the commit
// conditional on Seq still being the latest reservation for the asset.
type Update struct {
	AssetID string
	Price   decimal.Decimal
	Source  string
	Seq     uint64
}

// Callback receives every committed price. Callbacks run synchronously on the
// committing goroutine and must not call Set for the same asset.
type Callback func(CachedPrice)

type Options struct {
	Store          storage.BlobStore // nil keeps everything in memory only
	Logger         *zap.Logger
	MaxHistory     int
	BaselineWindow time.Duration
	BaselineKey    string
	HistoryKey     string
	PersistTimeout time.Duration
	Now            func() time.Time
	Location       *time.Location // zone of the chart time label
}

type subscription struct {
	id uint64
	cb Callback
}

// Cache is the single source of truth for current prices, history windows
// and day-start baselines.
type Cache struct {
	store          storage.BlobStore
	logger         *zap.Logger
	history        *memorystore.HistoryStore
	baselines      *memorystore.BaselineTracker
	now            func() time.Time
	location       *time.Location
	baselineKey    string
	historyKey     string
	persistTimeout time.Duration

	mu     sync.RWMutex
	prices map[string]CachedPrice
	seqs   map[string]uint64

	subMu     sync.Mutex
	subs      map[string][]subscription
	allSubs   []subscription
	nextSubID uint64

	// serializes blob writes so a later write never carries older state
	persistMu sync.Mutex
}

func New(opts Options) *Cache {
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaselineKey == "" {
		opts.BaselineKey = DefaultBaselineKey
	}
	if opts.HistoryKey == "" {
		opts.HistoryKey = DefaultHistoryKey
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Cache{
		store:          opts.Store,
		logger:         opts.Logger.Named("pricecache"),
		history:        memorystore.NewHistoryStore(opts.MaxHistory),
		baselines:      memorystore.NewBaselineTracker(opts.BaselineWindow),
		now:            opts.Now,
		location:       opts.Location,
		baselineKey:    opts.BaselineKey,
		historyKey:     opts.HistoryKey,
		persistTimeout: opts.PersistTimeout,
		prices:         make(map[string]CachedPrice),
		seqs:           make(map[string]uint64),
		subs:           make(map[string][]subscription),
	}
}

func (c *Cache) Get(assetID string) (CachedPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[assetID]
	return p, ok
}

// GetAll returns a copy of every cached price keyed by asset id.
func (c *Cache) GetAll() map[string]CachedPrice {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CachedPrice, len(c.prices))
	for id, p := range c.prices {
		out[id] = p
	}
	return out
}

// GetHistory returns the asset's full window, oldest first. Never nil.
func (c *Cache) GetHistory(assetID string) []memorystore.PriceSample {
	return c.history.Get(assetID)
}

// GetHistoryLimit returns at most limit of the newest samples, oldest first.
func (c *Cache) GetHistoryLimit(assetID string, limit int) []memorystore.PriceSample {
	return c.history.Last(assetID, limit)
}

// HistoryCount returns the number of samples held across all assets.
func (c *Cache) HistoryCount() int {
	return c.history.CountAll()
}

func (c *Cache) MaxHistory() int {
	return c.history.Capacity()
}

func (c *Cache) BaselineWindow() time.Duration {
	return c.baselines.Window()
}

// DayStart returns the asset's baseline while it still covers the cache clock.
// Restored baselines count too, before any price was committed.
func (c *Cache) DayStart(assetID string) (memorystore.Baseline, bool) {
	b, ok := c.baselines.Get(assetID)
	if !ok || c.baselines.Expired(b, c.now()) {
		return memorystore.Baseline{}, false
	}
	return b, true
}

// Reserve issues the next commit sequence for an asset. Pass it in
// Update.Seq; any later Reserve or unconditional Set supersedes it.
func (c *Cache) Reserve(assetID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs[assetID]++
	return c.seqs[assetID]
}

// Set commits an observation unconditionally. An empty source is recorded as
// the default feed label.
func (c *Cache) Set(assetID string, price decimal.Decimal, source string) CachedPrice {
	p, _ := c.commit(Update{AssetID: assetID, Price: price, Source: source})
	return p
}

// SetAll applies the updates in order, without atomicity across entries, and
// returns how many were committed. Superseded entries are dropped.
func (c *Cache) SetAll(updates []Update) int {
	committed := 0
	for _, u := range updates {
		if _, ok := c.commit(u); ok {
			committed++
		}
	}
	return committed
}

func (c *Cache) commit(u Update) (CachedPrice, bool) {
	if u.Source == "" {
		u.Source = pyth.SourceName
	}
	now := c.now()

	c.mu.Lock()
	if u.Seq != 0 && c.seqs[u.AssetID] != u.Seq {
		c.mu.Unlock()
		metrics.RecordCommit("superseded")
		c.logger.Debug("dropping superseded price",
			zap.String("coinId", u.AssetID),
			zap.Uint64("seq", u.Seq),
		)
		return CachedPrice{}, false
	}
	if u.Seq == 0 {
		c.seqs[u.AssetID]++
	}

	baseline, rebased := c.baselines.Observe(u.AssetID, u.Price, now)
	dayStartPrice := baseline.Price
	dayStartTime := baseline.Timestamp
	entry := CachedPrice{
		AssetID:           u.AssetID,
		Price:             u.Price,
		Timestamp:         now,
		Source:            u.Source,
		DayStartPrice:     &dayStartPrice,
		DayStartTimestamp: &dayStartTime,
	}
	c.prices[u.AssetID] = entry
	c.history.Add(u.AssetID, memorystore.PriceSample{
		Price:     u.Price,
		Timestamp: now,
		Source:    u.Source,
		Time:      now.In(c.location).Format(TimeLabelLayout),
	})
	c.mu.Unlock()

	metrics.RecordCommit("committed")

	if rebased {
		c.persistBaselines()
	}
	c.persistHistory()

	c.notify(entry)
	return entry, true
}

// Subscribe registers cb for one asset. The returned func removes exactly this
// registration; calling it again does nothing.
func (c *Cache) Subscribe(assetID string, cb Callback) func() {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs[assetID] = append(c.subs[assetID], subscription{id: id, cb: cb})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			c.subs[assetID] = removeSub(c.subs[assetID], id)
			if len(c.subs[assetID]) == 0 {
				delete(c.subs, assetID)
			}
		})
	}
}

// SubscribeAll registers cb for every asset. Per-asset subscribers are
// notified first.
func (c *Cache) SubscribeAll(cb Callback) func() {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.allSubs = append(c.allSubs, subscription{id: id, cb: cb})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			c.allSubs = removeSub(c.allSubs, id)
		})
	}
}

func (c *Cache) notify(p CachedPrice) {
	c.subMu.Lock()
	targets := make([]subscription, 0, len(c.subs[p.AssetID])+len(c.allSubs))
	targets = append(targets, c.subs[p.AssetID]...)
	targets = append(targets, c.allSubs...)
	c.subMu.Unlock()

	for _, s := range targets {
		c.invoke(s.cb, p)
	}
}

func (c *Cache) invoke(cb Callback, p CachedPrice) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordSubscriberPanic()
			c.logger.Error("subscriber panicked",
				zap.String("coinId", p.AssetID),
				zap.Any("panic", r),
			)
		}
	}()
	cb(p)
}

func removeSub(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
