package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/pyth/pricecache"
	"pricetracker/internal/pyth/snapshot"
	"pricetracker/pkg/pyth"

	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Second
)

// ErrBusy is returned by Poll when a cycle is already in flight.
var ErrBusy = errors.New("poll already in flight")

// Fetcher loads quotes for every tracked asset.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]snapshot.Quote, error)
}

// Sink receives committed quotes. *pricecache.Cache implements it.
type Sink interface {
	Reserve(assetID string) uint64
	SetAll(updates []pricecache.Update) int
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration // per cycle
	Source   string
}

// Status is the tracker state exposed to operators.
type Status struct {
	Running     bool       `json:"isTracking"`
	Online      bool       `json:"online"`
	Interval    string     `json:"interval"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	Cycles      uint64     `json:"cycles"`
	Skipped     uint64     `json:"skipped"`
}

// Poller feeds the cache on a fixed interval. At most one cycle is in flight;
// a tick that finds one running is skipped, not queued.
type Poller struct {
	fetcher  Fetcher
	sink     Sink
	assetIDs []string
	cfg      Config
	logger   *zap.Logger

	busy atomic.Bool
	wg   sync.WaitGroup // cycles started by the loop

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	online      bool
	lastSuccess time.Time
	lastError   string
	cycles      uint64
	skipped     uint64
}

func New(fetcher Fetcher, sink Sink, assetIDs []string, cfg Config, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Source == "" {
		cfg.Source = pyth.SourceName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:  fetcher,
		sink:     sink,
		assetIDs: append([]string(nil), assetIDs...),
		cfg:      cfg,
		logger:   logger.Named("poller"),
	}
}

// Start launches the polling loop under ctx. It returns false if the loop is
// already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil && !closed(p.done) {
		return false
	}
	if p.cancel != nil {
		// previous loop ended with its parent context
		p.cancel()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)

	p.logger.Info("price tracker started", zap.Duration("interval", p.cfg.Interval))
	return true
}

// Stop cancels the loop and any in-flight cycle and waits for them to exit.
// It returns false if the loop was not started.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	p.wg.Wait()

	p.logger.Info("price tracker stopped")
	return true
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done != nil && !closed(p.done)
}

func (p *Poller) Status() Status {
	running := p.Running()

	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		Running:   running,
		Online:    p.online,
		Interval:  p.cfg.Interval.String(),
		LastError: p.lastError,
		Cycles:    p.cycles,
		Skipped:   p.skipped,
	}
	if !p.lastSuccess.IsZero() {
		ts := p.lastSuccess
		s.LastSuccess = &ts
	}
	return s
}

// Poll runs one fetch-and-commit cycle. Commit sequences are reserved before
// the fetch, so a result that was superseded or whose ctx was cancelled
// meanwhile never reaches the cache.
func (p *Poller) Poll(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()
		metrics.RecordPoll("skipped")
		return ErrBusy
	}
	defer p.busy.Store(false)

	seqs := make(map[string]uint64, len(p.assetIDs))
	for _, id := range p.assetIDs {
		seqs[id] = p.sink.Reserve(id)
	}

	cycleCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	quotes, err := p.fetcher.FetchAll(cycleCtx)

	// aborted by the caller: swallow, leave the cache untouched
	if ctx.Err() != nil {
		metrics.RecordPoll("aborted")
		p.logger.Debug("poll aborted", zap.Error(ctx.Err()))
		return ctx.Err()
	}

	if err != nil {
		p.mu.Lock()
		p.cycles++
		p.online = false
		p.lastError = err.Error()
		p.mu.Unlock()

		metrics.RecordPoll("error")
		p.logger.Error("failed to fetch prices", zap.Error(err))
		return err
	}

	updates := make([]pricecache.Update, 0, len(quotes))
	for _, q := range quotes {
		seq, ok := seqs[q.AssetID]
		if !ok {
			continue
		}
		updates = append(updates, pricecache.Update{
			AssetID: q.AssetID,
			Price:   q.Price,
			Source:  p.cfg.Source,
			Seq:     seq,
		})
	}
	committed := p.sink.SetAll(updates)

	p.mu.Lock()
	p.cycles++
	p.online = true
	p.lastSuccess = time.Now()
	p.lastError = ""
	p.mu.Unlock()

	metrics.RecordPoll("ok")
	p.logger.Debug("poll committed",
		zap.Int("quotes", len(quotes)),
		zap.Int("committed", committed),
	)
	return nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.spawn(ctx)
		}
	}
}

// spawn runs a cycle without blocking the ticker; Poll itself enforces the
// single in-flight cycle.
func (p *Poller) spawn(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.Poll(ctx)
	}()
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
