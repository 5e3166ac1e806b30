package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// go test -v --run TestLoadFromFile
func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
poller:
  interval: 2s
cache:
  max_history: 30
storage:
  backend: redis
assets:
  - id: bitcoin
    symbol: BTC
    name: Bitcoin
    feed_id: "0xE62DF6C8B4A85FE1A67DB44DC12DE5DB330F7AC66B72DC658AFEDF0F4A415B43"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 30, cfg.Cache.MaxHistory)
	assert.Equal(t, BackendRedis, cfg.Storage.Backend)
	require.Len(t, cfg.Assets, 1)
	assert.Equal(t, "bitcoin", cfg.Assets[0].ID)

	// untouched keys keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Snapshot.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.BaselineWindow)
	assert.Equal(t, "crypto_day_start_prices", cfg.Cache.BaselineKey)
	assert.Equal(t, "https://hermes.pyth.network", cfg.Pyth.REST.BaseURL)
}

// go test -v --run TestLoadEnvOverride
func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "poller:\n  interval: 2s\n")
	t.Setenv("POLLER_INTERVAL", "3s")
	t.Setenv("SERVER_ADDR", "127.0.0.1:9999")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Poller.Interval)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
}

// go test -v --run TestLoadRejectsInvalid
func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero history":    "cache:\n  max_history: 0\n",
		"unknown backend": "storage:\n  backend: sqlite\n",
		"asset no feed":   "assets:\n  - id: bitcoin\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

// go test -v --run TestLoadMissingExplicitFile
func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

// go test -v --run TestPostgresDSN
func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "yourpw",
		DBName:   "pricetracker",
		SSLMode:  "disable",
		TimeZone: "UTC",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=yourpw dbname=pricetracker sslmode=disable TimeZone=UTC",
		cfg.DSN("dev"))
	assert.Contains(t, cfg.AdminDSN(), "dbname=postgres")
}
