// Package runs owns the lifecycle of research runs in the service: admission,
// execution through an Executor, progress fan-out, persistence and caching.
package runs

import (
	"errors"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/db"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
)

var (
	// ErrEmptyTopic is returned for blank topics.
	ErrEmptyTopic = orchestrator.ErrEmptyTopic
	// ErrTopicDenied is returned when the admission policy rejects the topic.
	ErrTopicDenied = errors.New("topic denied by policy")
	// ErrBusy is returned when max_concurrent runs are already executing.
	ErrBusy = errors.New("too many concurrent runs")
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrReportNotReady is returned when the run has not completed.
	ErrReportNotReady = errors.New("report not ready")
)

// DefaultMaxConcurrent bounds concurrently executing runs.
const DefaultMaxConcurrent = 4

// Run is the externally visible state of a research run.
type Run struct {
	ID        string         `json:"run_id"`
	Topic     string         `json:"topic"`
	Status    string         `json:"status"`
	Style     models.Style   `json:"style"`
	Tone      models.Tone    `json:"tone"`
	Mode      string         `json:"mode"`
	Analysis  string         `json:"analysis,omitempty"`
	Progress  float64        `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Report    *models.Report `json:"report,omitempty"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status == models.StatusCompleted || r.Status == models.StatusFailed
}

// SubmitRequest asks for a new run. Empty Style or Tone use the configured defaults.
type SubmitRequest struct {
	Topic      string `json:"topic"`
	Style      string `json:"style,omitempty"`
	Tone       string `json:"tone,omitempty"`
	Sequential bool   `json:"sequential,omitempty"`
	// Subject is the authenticated caller, passed to the admission policy.
	Subject string `json:"-"`
}

// Job is what an Executor runs.
type Job struct {
	RunID      string
	Topic      string
	Style      models.Style
	Tone       models.Tone
	Sequential bool
}

func (j Job) mode() string {
	if j.Sequential {
		return models.ModeSequential
	}
	return models.ModeParallel
}

func runFromRecord(rec *db.RunRecord) (*Run, error) {
	r := &Run{
		ID:        rec.ID,
		Topic:     rec.Topic,
		Status:    rec.Status,
		Style:     models.Style(rec.Style),
		Tone:      models.Tone(rec.Tone),
		Mode:      rec.Mode,
		Analysis:  rec.Analysis,
		Progress:  rec.Progress,
		Message:   rec.Message,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if len(rec.Report) > 0 {
		var report models.Report
		if err := rec.Report.Decode(&report); err != nil {
			return nil, err
		}
		r.Report = &report
	}
	return r, nil
}
