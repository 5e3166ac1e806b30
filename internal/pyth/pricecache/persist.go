package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/pyth/memorystore"
	"pricetracker/pkg/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxClockSkew is how far in the future a restored timestamp may lie.
const maxClockSkew = time.Minute

// baselineRecord and sampleRecord are the durable wire shapes. Timestamps are
// Unix milliseconds; prices accept JSON strings or numbers.
type baselineRecord struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

type sampleRecord struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Time      string          `json:"time"`
}

// Discarded describes one durable entry that could not be restored.
type Discarded struct {
	Key     string // blob key
	AssetID string // empty when the whole blob was rejected
	Reason  string
}

// LoadReport summarizes a best-effort restore.
type LoadReport struct {
	Baselines int
	Histories int
	Samples   int
	Discarded []Discarded
}

// Clean reports whether everything found in storage was restored.
func (r LoadReport) Clean() bool {
	return len(r.Discarded) == 0
}

// Load restores baselines and history windows from the blob store. It never
// fails: unreadable or malformed data is skipped and listed in the report.
// Restored baselines are not checked for age; the next Set handles that.
func (c *Cache) Load(ctx context.Context) LoadReport {
	var report LoadReport
	now := c.now()

	if raw, ok := c.loadBlob(ctx, c.baselineKey, &report); ok {
		baselines := decodeBaselines(c.baselineKey, raw, now, &report)
		for id, b := range baselines {
			c.baselines.Restore(id, b)
		}
		report.Baselines = len(baselines)
	}

	if raw, ok := c.loadBlob(ctx, c.historyKey, &report); ok {
		histories := decodeHistories(c.historyKey, raw, c.location, now, &report)
		for id, samples := range histories {
			c.history.Replace(id, samples)
			report.Samples += min(len(samples), c.history.Capacity())
		}
		report.Histories = len(histories)
	}

	for _, d := range report.Discarded {
		metrics.RecordLoadDiscard(d.Key)
		c.logger.Warn("discarded durable entry",
			zap.String("key", d.Key),
			zap.String("coinId", d.AssetID),
			zap.String("reason", d.Reason),
		)
	}
	c.logger.Info("restored durable state",
		zap.Int("baselines", report.Baselines),
		zap.Int("histories", report.Histories),
		zap.Int("samples", report.Samples),
		zap.Int("discarded", len(report.Discarded)),
	)
	return report
}

func (c *Cache) loadBlob(ctx context.Context, key string, report *LoadReport) ([]byte, bool) {
	raw, err := c.store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		report.Discarded = append(report.Discarded, Discarded{Key: key, Reason: err.Error()})
		return nil, false
	}
	return raw, true
}

func decodeBaselines(key string, raw []byte, now time.Time, report *LoadReport) map[string]memorystore.Baseline {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		report.Discarded = append(report.Discarded, Discarded{Key: key, Reason: fmt.Sprintf("decode: %v", err)})
		return nil
	}

	out := make(map[string]memorystore.Baseline, len(entries))
	for id, entry := range entries {
		var rec baselineRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			report.Discarded = append(report.Discarded, Discarded{Key: key, AssetID: id, Reason: fmt.Sprintf("decode: %v", err)})
			continue
		}
		if reason := validate(rec.Price, rec.Timestamp, now); reason != "" {
			report.Discarded = append(report.Discarded, Discarded{Key: key, AssetID: id, Reason: reason})
			continue
		}
		out[id] = memorystore.Baseline{Price: rec.Price, Timestamp: time.UnixMilli(rec.Timestamp)}
	}
	return out
}

func decodeHistories(key string, raw []byte, loc *time.Location, now time.Time, report *LoadReport) map[string][]memorystore.PriceSample {
	var entries map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		report.Discarded = append(report.Discarded, Discarded{Key: key, Reason: fmt.Sprintf("decode: %v", err)})
		return nil
	}

	out := make(map[string][]memorystore.PriceSample, len(entries))
	for id, items := range entries {
		samples := make([]memorystore.PriceSample, 0, len(items))
		for i, item := range items {
			var rec sampleRecord
			if err := json.Unmarshal(item, &rec); err != nil {
				report.Discarded = append(report.Discarded, Discarded{Key: key, AssetID: id, Reason: fmt.Sprintf("sample %d: %v", i, err)})
				continue
			}
			if reason := validate(rec.Price, rec.Timestamp, now); reason != "" {
				report.Discarded = append(report.Discarded, Discarded{Key: key, AssetID: id, Reason: fmt.Sprintf("sample %d: %s", i, reason)})
				continue
			}
			ts := time.UnixMilli(rec.Timestamp)
			label := rec.Time
			if label == "" {
				label = ts.In(loc).Format(TimeLabelLayout)
			}
			samples = append(samples, memorystore.PriceSample{
				Price:     rec.Price,
				Timestamp: ts,
				Source:    rec.Source,
				Time:      label,
			})
		}
		if len(samples) > 0 {
			out[id] = samples
		}
	}
	return out
}

func validate(price decimal.Decimal, ts int64, now time.Time) string {
	if ts <= 0 {
		return "missing timestamp"
	}
	if time.UnixMilli(ts).After(now.Add(maxClockSkew)) {
		return "timestamp in the future"
	}
	if price.IsNegative() {
		return "negative price"
	}
	return ""
}

func encodeBaselines(all map[string]memorystore.Baseline) ([]byte, error) {
	out := make(map[string]baselineRecord, len(all))
	for id, b := range all {
		out[id] = baselineRecord{Price: b.Price, Timestamp: b.Timestamp.UnixMilli()}
	}
	return json.Marshal(out)
}

func encodeHistories(all map[string][]memorystore.PriceSample) ([]byte, error) {
	out := make(map[string][]sampleRecord, len(all))
	for id, samples := range all {
		recs := make([]sampleRecord, len(samples))
		for i, s := range samples {
			recs[i] = sampleRecord{
				Price:     s.Price,
				Timestamp: s.Timestamp.UnixMilli(),
				Source:    s.Source,
				Time:      s.Time,
			}
		}
		out[id] = recs
	}
	return json.Marshal(out)
}

func (c *Cache) persistBaselines() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	data, err := encodeBaselines(c.baselines.All())
	if err != nil {
		c.persistFailed(c.baselineKey, err)
		return
	}
	c.save(c.baselineKey, data)
}

func (c *Cache) persistHistory() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	data, err := encodeHistories(c.history.GetAll())
	if err != nil {
		c.persistFailed(c.historyKey, err)
		return
	}
	c.save(c.historyKey, data)
}

func (c *Cache) save(key string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	if err := c.store.Save(ctx, key, data); err != nil {
		c.persistFailed(key, err)
	}
}

func (c *Cache) persistFailed(key string, err error) {
	metrics.RecordPersistError(key)
	c.logger.Error("failed to persist", zap.String("key", key), zap.Error(err))
}
