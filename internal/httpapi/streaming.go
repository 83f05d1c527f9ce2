package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
	"go.uber.org/zap"
)

const (
	subscriberBuffer  = 256
	sseHeartbeat      = 15 * time.Second
	wsPingInterval    = 20 * time.Second
	wsPongWait        = 60 * time.Second
	wsWriteControlTTL = 10 * time.Second
)

// StreamingHandler serves SSE and WebSocket endpoints for run progress events.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers SSE and WebSocket routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
	mux.HandleFunc("GET /stream/ws", h.handleWS)
}

// streamRequest holds the query parameters shared by both transports.
type streamRequest struct {
	runID  string
	lastID uint64
	types  map[string]struct{}
}

func parseStreamRequest(r *http.Request) (streamRequest, bool) {
	q := r.URL.Query()
	req := streamRequest{runID: q.Get("run_id"), types: map[string]struct{}{}}
	if req.runID == "" {
		return req, false
	}
	if s := q.Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			req.lastID = n
		}
	}
	if s := q.Get("last_event_id"); s != "" && req.lastID == 0 {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			req.lastID = n
		}
	}
	return req, true
}

func (s streamRequest) wants(evt streaming.Event) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

// handleSSE streams events for a run via Server-Sent Events.
// GET /stream/sse?run_id=<id>
//
// History after Last-Event-ID (or from the first event) is replayed before
// live events. The stream ends after the completed or failed event.
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	req, ok := parseStreamRequest(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// subscribe before replaying so nothing published in between is lost
	ch := h.mgr.Subscribe(req.runID, subscriberBuffer)
	defer h.mgr.Unsubscribe(req.runID, ch)

	backlog, err := h.mgr.ReplaySince(r.Context(), req.runID, req.lastID)
	if err != nil {
		h.logger.Warn("SSE replay failed", zap.String("run_id", req.runID), zap.Error(err))
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, ": connected to run %s\n\n", req.runID)
	flusher.Flush()

	sent := req.lastID
	for _, evt := range backlog {
		sent = evt.Seq
		if req.wants(evt) {
			writeSSE(w, evt)
		}
		if evt.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("run_id", req.runID))
			return
		case evt := <-ch:
			if evt.Seq <= sent {
				continue
			}
			sent = evt.Seq
			if req.wants(evt) {
				writeSSE(w, evt)
				flusher.Flush()
			}
			if evt.Terminal() {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt streaming.Event) {
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
}
