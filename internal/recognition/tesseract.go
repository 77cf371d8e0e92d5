//go:build tesseract

package recognition

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Engine interface with a local libtesseract.
// A gosseract client is not safe for concurrent use, so calls are serialised.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates a new Tesseract Engine for the given languages
func NewTesseract(languages ...string) (*Tesseract, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting tesseract language: %w", err)
	}
	return &Tesseract{client: client}, nil
}

func (t *Tesseract) Name() string {
	return "tesseract"
}

// Recognize runs OCR on the image. Confidence is the mean word confidence
// reported by tesseract.
func (t *Tesseract) Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) (*Result, error) {
	report(progress, "preparing image", 0.1)
	pngData, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(pngData); err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}

	report(progress, "recognizing text", 0.3)
	text, err := t.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	report(progress, "scoring words", 0.8)
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("reading word confidence: %w", err)
	}

	var confidence float64
	if len(boxes) > 0 {
		var sum float64
		for _, box := range boxes {
			sum += box.Confidence
		}
		confidence = clampConfidence(sum / float64(len(boxes)))
	}

	report(progress, "done", 1)
	return &Result{Text: text, Confidence: confidence}, nil
}

// Close releases the tesseract client
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
