package ocr

import (
	"context"

	"github.com/davidbz/markl/internal/domain"
)

// Disabled is the OCRService used when no extraction backend is configured.
// Settings report OCR as disabled, so extraction-dependent requests fail
// their precondition before any extraction is attempted.
type Disabled struct{}

// ExtractForFile always fails: extraction is never silently skipped.
func (Disabled) ExtractForFile(context.Context, string, string, domain.OCROptions) (*domain.OCRResult, error) {
	return nil, domain.PreconditionError("OCR is not configured")
}

// GetSettings reports OCR as disabled for every user.
func (Disabled) GetSettings(context.Context, string) (*domain.OCRSettings, error) {
	return &domain.OCRSettings{Enabled: false}, nil
}
