//go:build !tesseract

package recognition

import "context"

// Tesseract is a placeholder for builds without libtesseract
type Tesseract struct{}

// NewTesseract always fails with ErrTesseractUnavailable in this build
func NewTesseract(languages ...string) (*Tesseract, error) {
	return nil, ErrTesseractUnavailable
}

func (t *Tesseract) Name() string {
	return "tesseract"
}

func (t *Tesseract) Recognize(ctx context.Context, imageData []byte, contentType string, progress ProgressFunc) (*Result, error) {
	return nil, ErrTesseractUnavailable
}

func (t *Tesseract) Close() error {
	return nil
}
