package recognition

import "context"

// Result is the raw text an engine read from a cheque image
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
}

// Progress is an advisory status report from a running recognition
type Progress struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress"` // 0-1
}

// ProgressFunc receives progress reports. It may be nil.
type ProgressFunc func(Progress)

// Engine defines the interface for OCR and vision recognition backends
type Engine interface {
	// Recognize reads all text from a cheque image or PDF
	Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) (*Result, error)
	// Name identifies the engine in logs and outcomes
	Name() string
	// Close closes the engine and releases resources
	Close() error
}

func report(progress ProgressFunc, status string, fraction float64) {
	if progress != nil {
		progress(Progress{Status: status, Progress: fraction})
	}
}

// transcriptionPrompt is the shared prompt used by all vision engines
const transcriptionPrompt = `You are reading a photographed or scanned bank cheque. Transcribe every piece of printed and handwritten text you can see, exactly as written, one line per visual line, top to bottom.

Include the payee line, the payer name, the amount in figures, the amount in words, the date, the cheque number, and any memo line.

Return ONLY valid JSON in this exact format:
{
  "text": "line one\nline two",
  "confidence": 0
}

Important:
- Do not correct, translate or summarise the text
- "confidence" is a number from 0 to 100 describing how legible the cheque was
- If nothing is readable, return an empty "text" and a confidence of 0
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
