package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pricetracker/config"
	"pricetracker/internal/pyth/memorystore"
	"pricetracker/internal/pyth/poller"
	"pricetracker/internal/pyth/pricecache"
	"pricetracker/internal/pyth/snapshot"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLoader struct {
	all    []snapshot.Quote
	allErr error
	one    map[string]snapshot.Quote
	oneErr error
	onOne  func()
}

func (f *fakeLoader) LoadAll(context.Context) ([]snapshot.Quote, error) {
	return f.all, f.allErr
}

func (f *fakeLoader) LoadOne(_ context.Context, id string) (snapshot.Quote, error) {
	if f.onOne != nil {
		f.onOne()
	}
	if f.oneErr != nil {
		return snapshot.Quote{}, f.oneErr
	}
	return f.one[id], nil
}

type fakeTracker struct {
	mu      sync.Mutex
	running bool
}

func (f *fakeTracker) Start(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	return true
}

func (f *fakeTracker) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running
	f.running = false
	return was
}

func (f *fakeTracker) Status() poller.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return poller.Status{Running: f.running, Online: f.running}
}

type testEnv struct {
	srv     *httptest.Server
	cache   *pricecache.Cache
	loader  *fakeLoader
	tracker *fakeTracker
}

func newTestEnv(t *testing.T, cfg config.ServerConfig, health func(context.Context) error) *testEnv {
	t.Helper()

	assets, err := memorystore.NewAssetStore([]memorystore.Asset{
		{ID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", FeedID: "aa"},
		{ID: "ethereum", Symbol: "ETH", Name: "Ethereum", FeedID: "bb"},
	})
	require.NoError(t, err)

	env := &testEnv{
		cache:   pricecache.New(pricecache.Options{}),
		loader:  &fakeLoader{},
		tracker: &fakeTracker{},
	}
	s := New(cfg, Deps{
		Cache:   env.cache,
		Loader:  env.loader,
		Tracker: env.tracker,
		Assets:  assets,
		Health:  health,
	}, zaptest.NewLogger(t))

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

type rawEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, rawEnvelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env rawEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func quote(id, price string) snapshot.Quote {
	return snapshot.Quote{
		AssetID:     id,
		Symbol:      strings.ToUpper(id[:3]),
		Price:       decimal.RequireFromString(price),
		PublishTime: time.Unix(1700000000, 0).UTC(),
	}
}

// go test -v --run TestAllPrices
func TestAllPrices(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.cache.Set("bitcoin", decimal.NewFromInt(50000), "feed")
	env.loader.all = []snapshot.Quote{quote("bitcoin", "55000"), quote("ethereum", "3000")}

	status, body := env.do(t, http.MethodGet, "/api/all-prices", "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)
	require.NotNil(t, body.Count)
	assert.Equal(t, 2, *body.Count)

	var views []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &views))
	assert.Equal(t, "bitcoin", views[0]["coinId"])
	assert.Equal(t, "55000", views[0]["price"])
	assert.Equal(t, "50000", views[0]["dayStartPrice"])
	assert.Equal(t, "10", views[0]["changePercent"])
	assert.NotContains(t, views[1], "dayStartPrice")

	env.loader.allErr = errors.New("status 502")
	status, body = env.do(t, http.MethodGet, "/api/all-prices", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "status 502")

	env.loader.allErr = snapshot.ErrNoMatches
	_, body = env.do(t, http.MethodGet, "/api/all-prices", "")
	assert.Equal(t, "No matching coins found in Pyth response", body.Error)
}

// go test -v --run TestCoinPrice
func TestCoinPrice(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.loader.one = map[string]snapshot.Quote{"ethereum": quote("ethereum", "3141.5")}

	status, body := env.do(t, http.MethodGet, "/api/coin-price", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "coinId is required", body.Error)

	status, _ = env.do(t, http.MethodGet, "/api/coin-price?coinId=nope", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodGet, "/api/coin-price?coinId=ethereum", "")
	require.Equal(t, http.StatusOK, status)
	var view map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "3141.5", view["price"])
	assert.Equal(t, "Pyth Network", view["source"])

	cached, ok := env.cache.Get("ethereum")
	require.True(t, ok)
	assert.Equal(t, "3141.5", cached.Price.String())

	env.loader.oneErr = errors.New("timeout")
	status, body = env.do(t, http.MethodGet, "/api/coin-price?coinId=ethereum", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body.Error, "timeout")
}

// go test -v --run TestCoinPriceSuperseded
func TestCoinPriceSuperseded(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.loader.one = map[string]snapshot.Quote{"bitcoin": quote("bitcoin", "1")}
	env.loader.onOne = func() {
		env.cache.Set("bitcoin", decimal.NewFromInt(2), "stream")
	}

	status, _ := env.do(t, http.MethodGet, "/api/coin-price?coinId=bitcoin", "")
	require.Equal(t, http.StatusOK, status)

	cached, _ := env.cache.Get("bitcoin")
	assert.Equal(t, "2", cached.Price.String())
	assert.Len(t, env.cache.GetHistory("bitcoin"), 1)
}

// go test -v --run TestSavePriceAndHistory
func TestSavePriceAndHistory(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	status, body := env.do(t, http.MethodPost, "/api/save-price", `{"coinId":"bitcoin"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "coinId and price are required", body.Error)

	status, _ = env.do(t, http.MethodPost, "/api/save-price", `{"coinId":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, "/api/save-price", `{"coinId":"nope","price":1}`)
	assert.Equal(t, http.StatusNotFound, status)

	for _, p := range []string{`60000.5`, `"60001"`, `60002`} {
		status, body = env.do(t, http.MethodPost, "/api/save-price", `{"coinId":"bitcoin","price":`+p+`,"source":"manual"}`)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Price saved", body.Message)
	}

	status, body = env.do(t, http.MethodGet, "/api/price-history?coinId=bitcoin&limit=2", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, body.Count)
	assert.Equal(t, 2, *body.Count)

	var samples []map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &samples))
	assert.Equal(t, "60001", samples[0]["price"])
	assert.Equal(t, "60002", samples[1]["price"])
	assert.Equal(t, "manual", samples[1]["source"])

	_, body = env.do(t, http.MethodGet, "/api/price-history?coinId=bitcoin", "")
	assert.Equal(t, 3, *body.Count)

	status, _ = env.do(t, http.MethodGet, "/api/price-history?coinId=bitcoin&limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(t, http.MethodGet, "/api/price-history", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusOK, status)
	var prices map[string]map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &prices))
	assert.Equal(t, "60002", prices["bitcoin"]["price"])
	assert.Equal(t, "60000.5", prices["bitcoin"]["dayStartPrice"])
}

// go test -v --run TestPriceTrackerControl
func TestPriceTrackerControl(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)

	_, body := env.do(t, http.MethodPost, "/api/price-tracker", "")
	assert.Equal(t, "Price tracker started", body.Message)

	_, body = env.do(t, http.MethodPost, "/api/price-tracker", "")
	assert.Equal(t, "Price tracker is already running", body.Message)

	status, body := env.do(t, http.MethodGet, "/api/price-tracker", "")
	require.Equal(t, http.StatusOK, status)
	var st poller.Status
	require.NoError(t, json.Unmarshal(body.Data, &st))
	assert.True(t, st.Running)

	_, body = env.do(t, http.MethodDelete, "/api/price-tracker", "")
	assert.Equal(t, "Price tracker stopped", body.Message)
	assert.False(t, env.tracker.Status().Running)

	status, body = env.do(t, http.MethodPut, "/api/price-tracker", "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.False(t, body.Success)
	assert.Equal(t, "Method not allowed", body.Error)

	status, _ = env.do(t, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, status)
}

// go test -v --run TestAssetsAndHealth
func TestAssetsAndHealth(t *testing.T) {
	var healthErr error
	env := newTestEnv(t, config.ServerConfig{}, func(context.Context) error { return healthErr })

	status, body := env.do(t, http.MethodGet, "/api/assets", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, *body.Count)

	status, body = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Success)

	healthErr = errors.New("postgres unreachable")
	status, body = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "postgres unreachable", body.Error)
}

// go test -v --run TestRateLimit
func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{RateLimit: 0.001, Burst: 2}, nil)

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, http.MethodGet, "/api/assets", "")
		require.Equal(t, http.StatusOK, status)
	}
	status, body := env.do(t, http.MethodGet, "/api/assets", "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.False(t, body.Success)
}

// go test -v --run TestMetricsEndpoint
func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.do(t, http.MethodGet, "/api/assets", "")

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `pricetracker_http_requests_total{method="GET",path="/api/assets",status="200"}`)
}

// go test -v --run TestPriceStream
func TestPriceStream(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{}, nil)
	env.cache.Set("bitcoin", decimal.NewFromInt(1), "feed")

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/prices?coinId=bitcoin"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first pricecache.CachedPrice
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "1", first.Price.String())

	env.cache.Set("ethereum", decimal.NewFromInt(5), "feed")
	env.cache.Set("bitcoin", decimal.NewFromInt(2), "feed")

	var next pricecache.CachedPrice
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "bitcoin", next.AssetID)
	assert.Equal(t, "2", next.Price.String())

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws/prices?coinId=nope", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
