package formatting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

const maxNameRunes = 30

// Export formats accepted by WriteFiles.
const (
	FormatJSON     = "json"
	FormatMarkdown = "md"
)

// SafeName reduces a topic to letters, digits, spaces, '-' and '_' (anything
// else becomes '_'), capped at 30 runes. An empty result is "report".
func SafeName(topic string) string {
	var b strings.Builder
	n := 0
	for _, r := range topic {
		if n == maxNameRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
		n++
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		return "report"
	}
	return name
}

// WriteFiles writes the report into dir once per format and returns the paths.
func WriteFiles(dir string, report models.Report, formats ...string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	base := SafeName(report.Topic)
	paths := make([]string, 0, len(formats))
	for _, format := range formats {
		var data []byte
		switch format {
		case FormatJSON:
			b, err := ExportJSON(report)
			if err != nil {
				return paths, err
			}
			data = b
		case FormatMarkdown:
			data = []byte(RenderMarkdown(report))
		default:
			return paths, fmt.Errorf("unknown export format %q", format)
		}
		path := filepath.Join(dir, base+"."+format)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
