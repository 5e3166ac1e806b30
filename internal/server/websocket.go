package server

import (
	"net/http"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/pyth/pricecache"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// handlePriceStream pushes every committed price to the client, for one asset
// when coinId is given and for all assets otherwise. Slow clients lose
// updates instead of stalling the commit path.
func (s *Server) handlePriceStream(w http.ResponseWriter, r *http.Request) {
	coinID := r.URL.Query().Get("coinId")
	if coinID != "" {
		if _, ok := s.deps.Assets.ByID(coinID); !ok {
			writeError(w, http.StatusNotFound, "Coin "+coinID+" not found")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.WebSocketClientConnected()
	defer metrics.WebSocketClientDisconnected()

	send := make(chan pricecache.CachedPrice, wsSendBuffer)
	push := func(p pricecache.CachedPrice) {
		select {
		case send <- p:
		default:
		}
	}

	var unsubscribe func()
	if coinID != "" {
		unsubscribe = s.deps.Cache.Subscribe(coinID, push)
	} else {
		unsubscribe = s.deps.Cache.SubscribeAll(push)
	}
	defer unsubscribe()

	// The reader only notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// current state first
	if coinID != "" {
		if p, ok := s.deps.Cache.Get(coinID); ok {
			push(p)
		}
	} else {
		for _, p := range s.deps.Cache.GetAll() {
			push(p)
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case p := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(p); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
