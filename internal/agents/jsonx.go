package agents

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object in model output")

// extractObject returns the span from the first '{' to the last '}'.
func extractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// decodeObject decodes text as JSON, falling back to the brace span when the
// model wrapped the object in prose or code fences.
func decodeObject(text string, v any) error {
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), v); err == nil {
		return nil
	}
	span, ok := extractObject(text)
	if !ok {
		return errNoJSONObject
	}
	return json.Unmarshal([]byte(span), v)
}

// flexInt accepts 8, 8.0 or "8".
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value = int(n)
	f.Set = true
	return nil
}
