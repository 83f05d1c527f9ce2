package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/research/internal/formatting"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/runs"
	"go.uber.org/zap"
)

const maxSubmitBody = 64 << 10

// RunService is the part of runs.Manager the HTTP layer needs.
type RunService interface {
	Submit(ctx context.Context, req runs.SubmitRequest) (*runs.Run, error)
	Get(ctx context.Context, id string) (*runs.Run, error)
	Report(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, limit int) ([]runs.Run, error)
}

// ResearchHandler exposes research runs over HTTP.
//
//	POST /api/v1/research
//	GET  /api/v1/research
//	GET  /api/v1/research/{id}
//	GET  /api/v1/research/{id}/report.json
//	GET  /api/v1/research/{id}/report.md
type ResearchHandler struct {
	runs   RunService
	logger *zap.Logger
}

func NewResearchHandler(svc RunService, logger *zap.Logger) *ResearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResearchHandler{runs: svc, logger: logger}
}

// RegisterRoutes registers the research endpoints. Callers must have been
// authenticated by an outer middleware; scopes are checked here.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	write := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeResearchWrite, fn) }
	read := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeResearchRead, fn) }

	mux.Handle("POST /api/v1/research", write(h.handleSubmit))
	mux.Handle("GET /api/v1/research", read(h.handleList))
	mux.Handle("GET /api/v1/research/{id}", read(h.handleGet))
	mux.Handle("GET /api/v1/research/{id}/report.json", read(h.handleReportJSON))
	mux.Handle("GET /api/v1/research/{id}/report.md", read(h.handleReportMarkdown))
}

type submitResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (h *ResearchHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req runs.SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		req.Subject = user.Subject
	}

	run, err := h.runs.Submit(r.Context(), req)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/research/"+run.ID)
	writeJSON(w, http.StatusAccepted, submitResponse{RunID: run.ID, Status: run.Status})
}

func (h *ResearchHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": list, "count": len(list)})
}

func (h *ResearchHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *ResearchHandler) handleReportJSON(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	b, err := formatting.ExportJSON(*report)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+reportFilename(r.PathValue("id"), "json")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *ResearchHandler) handleReportMarkdown(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+reportFilename(r.PathValue("id"), "md")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(formatting.RenderMarkdown(*report)))
}

func reportFilename(id, ext string) string {
	return "research_" + id + "." + ext
}

// writeRunError maps runs sentinels onto status codes.
func (h *ResearchHandler) writeRunError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, runs.ErrEmptyTopic):
		status = http.StatusBadRequest
	case errors.Is(err, runs.ErrTopicDenied):
		status = http.StatusForbidden
	case errors.Is(err, runs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, runs.ErrReportNotReady):
		status = http.StatusConflict
	case errors.Is(err, runs.ErrBusy):
		w.Header().Set("Retry-After", "5")
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Research request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, sanitizeErr(err.Error()))
}
