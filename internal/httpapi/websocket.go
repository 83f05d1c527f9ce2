package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS streams events for a run as JSON text frames.
// GET /stream/ws?run_id=<id>
//
// The server closes with a normal closure frame after the terminal event.
func (h *StreamingHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	req, ok := parseStreamRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := h.mgr.Subscribe(req.runID, subscriberBuffer)
	defer h.mgr.Unsubscribe(req.runID, ch)

	closeNormally := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteControlTTL))
	}

	backlog, err := h.mgr.ReplaySince(r.Context(), req.runID, req.lastID)
	if err != nil {
		h.logger.Warn("WebSocket replay failed", zap.String("run_id", req.runID), zap.Error(err))
	}
	sent := req.lastID
	for _, evt := range backlog {
		sent = evt.Seq
		if req.wants(evt) {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
		if evt.Terminal() {
			closeNormally()
			return
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// reader pump: client messages are discarded, errors end the session
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			h.logger.Debug("WebSocket client disconnected", zap.String("run_id", req.runID))
			return
		case evt := <-ch:
			if evt.Seq <= sent {
				continue
			}
			sent = evt.Seq
			if req.wants(evt) {
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
			}
			if evt.Terminal() {
				closeNormally()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteControlTTL)); err != nil {
				return
			}
		}
	}
}
