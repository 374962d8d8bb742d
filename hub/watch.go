package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rapidshare/metrics"
	"rapidshare/models"
)

const watchWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Devices are native clients, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChangeMessage is pushed to watchers after a write to a collection.
type ChangeMessage struct {
	Collection string `json:"collection"`
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	switch collection {
	case models.CollectionPeers, models.CollectionTransfers:
	default:
		writeError(w, http.StatusBadRequest, "collection must be peers or transfers")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("watch upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.HubWatchers.Inc()
	defer metrics.HubWatchers.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, err := s.store.Changes(ctx, collection)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(watchWriteTimeout))
		return
	}

	// Drain incoming frames so close and ping frames are handled.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case _, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "store closed"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(ChangeMessage{Collection: collection}); err != nil {
				return
			}
		}
	}
}
