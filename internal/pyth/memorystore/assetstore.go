package memorystore

import (
	"fmt"
	"strings"

	"pricetracker/pkg/pyth"
)

// AssetStore is the immutable asset table with lookups by id, symbol and
// normalized feed id. Safe for concurrent reads since it never changes after
// construction.
type AssetStore struct {
	assets   []Asset
	byID     map[string]int
	bySymbol map[string]int
	byFeed   map[string]int
}

// NewAssetStore validates the table and indexes it. Ids and feed ids must be
// unique and non-empty.
func NewAssetStore(assets []Asset) (*AssetStore, error) {
	s := &AssetStore{
		assets:   make([]Asset, 0, len(assets)),
		byID:     make(map[string]int, len(assets)),
		bySymbol: make(map[string]int, len(assets)),
		byFeed:   make(map[string]int, len(assets)),
	}

	for _, a := range assets {
		feed := pyth.NormalizeFeedID(a.FeedID)
		if a.ID == "" || feed == "" {
			return nil, fmt.Errorf("asset %q: id and feed id are required", a.ID)
		}
		if _, dup := s.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate asset id %q", a.ID)
		}
		if _, dup := s.byFeed[feed]; dup {
			return nil, fmt.Errorf("duplicate feed id %q (asset %q)", a.FeedID, a.ID)
		}

		a.FeedID = feed
		idx := len(s.assets)
		s.assets = append(s.assets, a)
		s.byID[a.ID] = idx
		if a.Symbol != "" {
			s.bySymbol[strings.ToUpper(a.Symbol)] = idx
		}
		s.byFeed[feed] = idx
	}
	return s, nil
}

// GetAll returns a copy of the table in configured order.
func (s *AssetStore) GetAll() []Asset {
	out := make([]Asset, len(s.assets))
	copy(out, s.assets)
	return out
}

func (s *AssetStore) ByID(id string) (Asset, bool) {
	return s.lookup(s.byID, id)
}

// BySymbol matches case-insensitively.
func (s *AssetStore) BySymbol(symbol string) (Asset, bool) {
	return s.lookup(s.bySymbol, strings.ToUpper(symbol))
}

// ByFeedID accepts ids with or without "0x" and in any case.
func (s *AssetStore) ByFeedID(feedID string) (Asset, bool) {
	return s.lookup(s.byFeed, pyth.NormalizeFeedID(feedID))
}

// IDs returns asset ids in configured order.
func (s *AssetStore) IDs() []string {
	out := make([]string, len(s.assets))
	for i, a := range s.assets {
		out[i] = a.ID
	}
	return out
}

// FeedIDs returns normalized feed ids in configured order.
func (s *AssetStore) FeedIDs() []string {
	out := make([]string, len(s.assets))
	for i, a := range s.assets {
		out[i] = a.FeedID
	}
	return out
}

func (s *AssetStore) Len() int {
	return len(s.assets)
}

func (s *AssetStore) lookup(index map[string]int, key string) (Asset, bool) {
	idx, ok := index[key]
	if !ok {
		return Asset{}, false
	}
	return s.assets[idx], true
}
