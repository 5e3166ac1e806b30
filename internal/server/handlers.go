package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pricetracker/internal/pyth/pricecache"
	"pricetracker/internal/pyth/snapshot"
	"pricetracker/pkg/pyth"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// QuoteView is a quote enriched with the cached day-start baseline.
type QuoteView struct {
	snapshot.Quote
	DayStartPrice *decimal.Decimal `json:"dayStartPrice,omitempty"`
	ChangePercent *decimal.Decimal `json:"changePercent,omitempty"`
}

// CoinPriceView answers /api/coin-price.
type CoinPriceView struct {
	snapshot.Quote
	Source string `json:"source"`
}

type savePriceRequest struct {
	CoinID string           `json:"coinId"`
	Price  *decimal.Decimal `json:"price"`
	Source string           `json:"source"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Tracker.Status()
	body := map[string]any{
		"status":     "ok",
		"isTracking": status.Running,
		"online":     status.Online,
	}

	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			body["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Data: body, Error: err.Error()})
			return
		}
	}
	writeData(w, body)
}

func (s *Server) handleAssets(w http.ResponseWriter, _ *http.Request) {
	writeList(w, s.deps.Assets.GetAll())
}

func (s *Server) handleAllPrices(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.deps.Loader.LoadAll(r.Context())
	if err != nil {
		s.logger.Error("failed to load all prices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, upstreamMessage(err))
		return
	}

	views := make([]QuoteView, len(quotes))
	for i, q := range quotes {
		views[i] = QuoteView{Quote: q}
		baseline, ok := s.deps.Cache.DayStart(q.AssetID)
		if !ok {
			continue
		}
		start := baseline.Price
		views[i].DayStartPrice = &start
		if !start.IsZero() {
			change := q.Price.Sub(start).Div(start).Mul(decimal.NewFromInt(100))
			views[i].ChangePercent = &change
		}
	}
	writeList(w, views)
}

func (s *Server) handleCoinPrice(w http.ResponseWriter, r *http.Request) {
	coinID := r.URL.Query().Get("coinId")
	if coinID == "" {
		writeError(w, http.StatusBadRequest, "coinId is required")
		return
	}
	if _, ok := s.deps.Assets.ByID(coinID); !ok {
		writeError(w, http.StatusNotFound, "Coin "+coinID+" not found")
		return
	}

	seq := s.deps.Cache.Reserve(coinID)
	q, err := s.deps.Loader.LoadOne(r.Context(), coinID)
	if err != nil {
		if errors.Is(err, snapshot.ErrUnknownAsset) {
			writeError(w, http.StatusNotFound, "Coin "+coinID+" not found")
			return
		}
		s.logger.Error("failed to load coin price", zap.String("coinId", coinID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, upstreamMessage(err))
		return
	}

	// client went away while we were fetching
	if r.Context().Err() != nil {
		return
	}
	s.deps.Cache.SetAll([]pricecache.Update{{AssetID: coinID, Price: q.Price, Seq: seq}})

	cached, _ := s.deps.Cache.Get(coinID)
	source := cached.Source
	if source == "" {
		source = pyth.SourceName
	}
	writeData(w, CoinPriceView{Quote: q, Source: source})
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Cache.GetAll()
	n := len(all)
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: all, Count: &n})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	coinID := query.Get("coinId")
	if coinID == "" {
		writeError(w, http.StatusBadRequest, "coinId is required")
		return
	}
	if _, ok := s.deps.Assets.ByID(coinID); !ok {
		writeError(w, http.StatusNotFound, "Coin "+coinID+" not found")
		return
	}

	limit := defaultHistoryLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	writeList(w, s.deps.Cache.GetHistoryLimit(coinID, limit))
}

func (s *Server) handleSavePrice(w http.ResponseWriter, r *http.Request) {
	var req savePriceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CoinID == "" || req.Price == nil {
		writeError(w, http.StatusBadRequest, "coinId and price are required")
		return
	}
	if _, ok := s.deps.Assets.ByID(req.CoinID); !ok {
		writeError(w, http.StatusNotFound, "Coin "+req.CoinID+" not found")
		return
	}
	if req.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}

	saved := s.deps.Cache.Set(req.CoinID, *req.Price, req.Source)
	writeMessage(w, "Price saved", saved)
}

func (s *Server) handleTrackerStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.deps.Tracker.Status())
}

func (s *Server) handleTrackerStart(w http.ResponseWriter, _ *http.Request) {
	msg := "Price tracker started"
	if !s.deps.Tracker.Start(s.deps.BaseContext) {
		msg = "Price tracker is already running"
	}
	writeMessage(w, msg, s.deps.Tracker.Status())
}

func (s *Server) handleTrackerStop(w http.ResponseWriter, _ *http.Request) {
	s.deps.Tracker.Stop()
	writeMessage(w, "Price tracker stopped", s.deps.Tracker.Status())
}

func upstreamMessage(err error) string {
	if errors.Is(err, snapshot.ErrNoMatches) {
		return "No matching coins found in Pyth response"
	}
	return "Pyth API error: " + err.Error()
}
