package recognition

import (
	"errors"
	"fmt"
	"strings"
)

// MaxImageSize is the largest upload accepted for recognition
const MaxImageSize = 10 << 20

var (
	ErrEmptyImage      = errors.New("image is empty")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrImageTooLarge   = errors.New("image is too large")

	// ErrTesseractUnavailable is returned when the binary was built without
	// the tesseract build tag.
	ErrTesseractUnavailable = errors.New("tesseract support not compiled in (build with -tags tesseract)")
)

// CheckUpload rejects files that cannot be handed to an engine. Images of any
// subtype and PDFs are accepted.
func CheckUpload(contentType string, size int64) error {
	if size <= 0 {
		return ErrEmptyImage
	}
	mimeType := normalizeMimeType(contentType)
	if !strings.HasPrefix(mimeType, "image/") && mimeType != "application/pdf" {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if size > MaxImageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, size, MaxImageSize)
	}
	return nil
}
