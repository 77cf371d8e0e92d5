package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

// transcript is the JSON shape vision engines are asked to return
type transcript struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// parseTranscript parses a vision model reply into a Result. Code fences and
// chatter around the JSON object are ignored. A missing confidence becomes 0
// and out-of-range values are clamped to 0-100.
func parseTranscript(text string) (*Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	var t transcript
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	result := &Result{Text: strings.TrimSpace(t.Text)}
	if t.Confidence != nil {
		result.Confidence = clampConfidence(*t.Confidence)
	}
	return result, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
