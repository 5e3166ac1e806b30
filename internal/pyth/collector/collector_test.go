package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pricetracker/config"
	"pricetracker/pkg/pyth"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeHermes serves latest_price_feeds for any requested id, with a price
// that grows on every request.
func fakeHermes(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pyth.LatestPriceFeedsPath {
			http.NotFound(w, r)
			return
		}
		n := calls.Add(1)

		var feeds []string
		for _, id := range r.URL.Query()["ids[]"] {
			feeds = append(feeds, fmt.Sprintf(
				`{"id":"0x%s","price":{"price":"%d","conf":"100","expo":-2,"publish_time":1700000000}}`,
				id, 100000+n))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[" + strings.Join(feeds, ",") + "]"))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(hermesURL string) *config.Config {
	return &config.Config{
		Pyth: config.PythConfig{
			REST: config.RESTConfig{BaseURL: hermesURL, Timeout: time.Second},
		},
		Poller:   config.PollerConfig{Interval: 20 * time.Millisecond, Timeout: time.Second, Autostart: true},
		Snapshot: config.SnapshotConfig{TTL: 10 * time.Millisecond},
		Cache: config.CacheConfig{
			MaxHistory:     5,
			BaselineWindow: 24 * time.Hour,
			PersistTimeout: time.Second,
		},
		Storage: config.StorageConfig{Backend: config.BackendMemory},
		Server:  config.ServerConfig{Addr: "127.0.0.1:0"},
		Assets: []config.AssetConfig{
			{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", FeedID: "aa"},
			{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", FeedID: "bb"},
		},
	}
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	return resp.StatusCode
}

// go test -v --run TestCollectorEndToEnd
func TestCollectorEndToEnd(t *testing.T) {
	hermes, calls := fakeHermes(t)
	cfg := testConfig(hermes.URL)

	c, err := StartCollector(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	base := "http://" + c.Addr()

	require.Eventually(t, func() bool {
		return len(c.Cache.GetHistory("bitcoin")) == 5
	}, 3*time.Second, 10*time.Millisecond)

	var prices struct {
		Success bool                       `json:"success"`
		Data    map[string]json.RawMessage `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/api/prices", &prices))
	assert.True(t, prices.Success)
	assert.Len(t, prices.Data, 2)

	var tracker struct {
		Data struct {
			Running bool `json:"isTracking"`
			Online  bool `json:"online"`
		} `json:"data"`
	}
	getJSON(t, base+"/api/price-tracker", &tracker)
	assert.True(t, tracker.Data.Running)
	assert.True(t, tracker.Data.Online)

	req, err := http.NewRequest(http.MethodDelete, base+"/api/price-tracker", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, c.Poller.Running())

	stopped := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}

// go test -v --run TestCollectorShutdownWithTrackerRequests
func TestCollectorShutdownWithTrackerRequests(t *testing.T) {
	hermes, calls := fakeHermes(t)
	cfg := testConfig(hermes.URL)
	cfg.Poller.Autostart = false

	c, err := StartCollector(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	trackerURL := "http://" + c.Addr() + "/api/price-tracker"

	// keep asking the tracker to start while the collector shuts down
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			resp, err := http.Post(trackerURL, "application/json", nil)
			if err != nil {
				continue
			}
			resp.Body.Close()
		}
	}()

	require.Eventually(t, c.Poller.Running, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
	close(stop)
	<-done

	assert.False(t, c.Poller.Running())
	settled := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, calls.Load())
}

// go test -v --run TestCollectorRestoresFromRedis
func TestCollectorRestoresFromRedis(t *testing.T) {
	hermes, _ := fakeHermes(t)
	mr := miniredis.RunT(t)

	cfg := testConfig(hermes.URL)
	cfg.Storage.Backend = config.BackendRedis
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), Prefix: "pt:"}
	cfg.Cache.BaselineKey = "crypto_day_start_prices"
	cfg.Cache.HistoryKey = "crypto_price_history"

	first, err := StartCollector(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(first.Cache.GetHistory("ethereum")) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(ctx))

	baseline, _ := first.Cache.Get("ethereum")
	saved := first.Cache.GetHistory("ethereum")
	assert.True(t, mr.Exists("pt:crypto_day_start_prices"))

	cfg.Poller.Autostart = false
	second, err := StartCollector(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Shutdown(context.Background())

	restored := second.Cache.GetHistory("ethereum")
	require.Len(t, restored, len(saved))
	assert.True(t, restored[len(restored)-1].Price.Equal(saved[len(saved)-1].Price))

	var health struct {
		Success bool `json:"success"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, "http://"+second.Addr()+"/health", &health))
	assert.True(t, health.Success)

	// the restored baseline carries into the next commit
	got := second.Cache.Set("ethereum", baseline.Price.Add(baseline.Price), "")
	require.NotNil(t, got.DayStartPrice)
	assert.True(t, got.DayStartPrice.Equal(*baseline.DayStartPrice))
}

// go test -v --run TestCollectorRejectsBadAssets
func TestCollectorRejectsBadAssets(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Assets = append(cfg.Assets, config.AssetConfig{ID: "bitcoin", FeedID: "cc"})

	_, err := StartCollector(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
