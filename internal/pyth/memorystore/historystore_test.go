package memorystore

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(v int64, ts time.Time) PriceSample {
	return PriceSample{Price: decimal.NewFromInt(v), Timestamp: ts, Source: "test"}
}

// go test -v --run TestHistoryStoreCapacity
func TestHistoryStoreCapacity(t *testing.T) {
	store := NewHistoryStore(3)
	base := time.Unix(1700000000, 0)

	for i := int64(1); i <= 5; i++ {
		store.Add("bitcoin", sample(i, base.Add(time.Duration(i)*time.Second)))
	}

	got := store.Get("bitcoin")
	require.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Price.String())
	assert.Equal(t, "5", got[2].Price.String())
	assert.Equal(t, 3, store.CountAll())

	last := store.Last("bitcoin", 2)
	require.Len(t, last, 2)
	assert.Equal(t, "4", last[0].Price.String())
	assert.Equal(t, "5", last[1].Price.String())

	assert.Len(t, store.Last("bitcoin", 100), 3)
}

// go test -v --run TestHistoryStoreUnknownAsset
func TestHistoryStoreUnknownAsset(t *testing.T) {
	store := NewHistoryStore(0)
	assert.Equal(t, DefaultHistoryCapacity, store.Capacity())

	got := store.Get("nope")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

// go test -v --run TestHistoryStoreReplace
func TestHistoryStoreReplace(t *testing.T) {
	store := NewHistoryStore(2)
	store.Add("ethereum", sample(1, time.Unix(1, 0)))

	store.Replace("ethereum", []PriceSample{
		sample(10, time.Unix(10, 0)),
		sample(11, time.Unix(11, 0)),
		sample(12, time.Unix(12, 0)),
	})

	got := store.Get("ethereum")
	require.Len(t, got, 2)
	assert.Equal(t, "11", got[0].Price.String())
	assert.Equal(t, "12", got[1].Price.String())

	all := store.GetAll()
	assert.Len(t, all, 1)
	assert.Len(t, all["ethereum"], 2)
}

// go test -v --run TestHistoryStoreReplaceKeepsInflightAdd
func TestHistoryStoreReplaceKeepsInflightAdd(t *testing.T) {
	store := NewHistoryStore(5)

	// an Add that resolved its window before Replace ran
	h := store.history("bitcoin")
	store.Replace("bitcoin", []PriceSample{sample(1, time.Unix(1, 0))})
	h.mu.Lock()
	h.ring.push(sample(2, time.Unix(2, 0)))
	h.mu.Unlock()

	assert.Same(t, h, store.history("bitcoin"))
	got := store.Get("bitcoin")
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Price.String())
	assert.Equal(t, "2", got[1].Price.String())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Add("bitcoin", sample(int64(i), time.Now()))
				store.Replace("bitcoin", store.Get("bitcoin"))
			}
		}()
	}
	wg.Wait()
	assert.Len(t, store.Get("bitcoin"), 5)
}

// go test -v --run TestHistoryStoreReturnsCopies
func TestHistoryStoreReturnsCopies(t *testing.T) {
	store := NewHistoryStore(5)
	store.Add("solana", sample(1, time.Unix(1, 0)))

	got := store.Get("solana")
	got[0].Price = decimal.NewFromInt(99)

	assert.Equal(t, "1", store.Get("solana")[0].Price.String())
}

// go test -v --run TestHistoryStoreConcurrentAdds
func TestHistoryStoreConcurrentAdds(t *testing.T) {
	store := NewHistoryStore(50)
	assets := []string{"bitcoin", "ethereum", "solana"}

	var wg sync.WaitGroup
	for _, id := range assets {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					store.Add(id, sample(int64(i), time.Now()))
					_ = store.Last(id, 10)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range assets {
		assert.Len(t, store.Get(id), 50)
	}
	assert.Equal(t, 150, store.CountAll())
}
