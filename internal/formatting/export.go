package formatting

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

// ExportJSON is the lossless structural export of a report: two-space
// indentation, no HTML escaping, trailing newline. The input is not modified.
func ExportJSON(report models.Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report.Normalize()); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportJSON decodes an ExportJSON document.
func ImportJSON(data []byte) (models.Report, error) {
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return models.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return r.Normalize(), nil
}
