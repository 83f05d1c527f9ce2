package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler serves the probe and status endpoints.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: manager, logger: logger}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	mux.HandleFunc("GET /health/live", h.handleLive)
	mux.HandleFunc("GET /health/detailed", h.handleDetailed)
}

// httpStatus keeps degraded services in rotation.
func httpStatus(s CheckStatus) int {
	if s == StatusHealthy || s == StatusDegraded {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	o := h.manager.GetOverallHealth(r.Context())
	h.write(w, httpStatus(o.Status), map[string]interface{}{
		"status":    o.Status.String(),
		"message":   o.Message,
		"timestamp": o.Timestamp.Unix(),
		"duration":  o.Duration.String(),
		"degraded":  o.Degraded,
		"ready":     o.Ready,
		"live":      o.Live,
	})
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())
	code, msg := http.StatusOK, "ready"
	if !ready {
		code, msg = http.StatusServiceUnavailable, "not ready"
	}
	h.write(w, code, map[string]interface{}{"status": msg, "ready": ready, "timestamp": time.Now().Unix()})
}

func (h *HTTPHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"live":      h.manager.IsLive(r.Context()),
		"timestamp": time.Now().Unix(),
	})
}

// handleDetailed runs every check unless ?cached=true.
func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	var d DetailedHealth
	if r.URL.Query().Get("cached") == "true" {
		d = h.manager.cachedDetail()
	} else {
		d = h.manager.GetDetailedHealth(r.Context())
	}
	h.write(w, httpStatus(d.Overall.Status), d)
}

func (h *HTTPHandler) write(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
