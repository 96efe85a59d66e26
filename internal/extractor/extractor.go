// Package extractor produces plain text from staged documents. Extraction is
// dispatched to a per-format strategy; a strategy failure degrades the run
// (placeholder text, lowered confidence downstream) instead of aborting it.
package extractor

import (
	"context"

	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

// Format is the extraction strategy key derived from a submission's MIME type.
type Format string

const (
	FormatText    Format = "text"
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatImage   Format = "image"
	FormatUnknown Format = "unknown"
)

// PlaceholderText is stored as the extracted text of a degraded extraction.
const PlaceholderText = "[text extraction unavailable]"

// FormatFor maps a MIME type to its extraction strategy.
func FormatFor(contentType string) Format {
	switch contentType {
	case "text/plain":
		return FormatText
	case "application/pdf":
		return FormatPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX
	case "image/png", "image/jpeg", "image/tiff":
		return FormatImage
	default:
		return FormatUnknown
	}
}

// Strategy extracts plain text from one document format. Strategies are
// independently replaceable and independently testable.
type Strategy interface {
	Extract(ctx context.Context, data []byte, contentType string) (string, error)
}

// VisionCapability is the external OCR collaborator used by the image
// strategy.
type VisionCapability interface {
	ExtractImageText(ctx context.Context, data []byte, contentType string) (string, error)
}

// Result is what the pipeline receives: text plus a degradation marker.
// Degraded extraction is a normal outcome, not an error.
type Result struct {
	Text     string
	Degraded bool
	Failure  string
}

type Extractor struct {
	strategies map[Format]Strategy
	logger     *utils.Logger
}

func New(vision VisionCapability, logger *utils.Logger) *Extractor {
	return &Extractor{
		strategies: map[Format]Strategy{
			FormatText:  &textStrategy{},
			FormatPDF:   &pdfStrategy{},
			FormatDOCX:  &docxStrategy{},
			FormatImage: &ocrStrategy{vision: vision},
		},
		logger: logger,
	}
}

// WithStrategy replaces the strategy for a format. Used by tests and as the
// extension point for new formats.
func (e *Extractor) WithStrategy(format Format, s Strategy) *Extractor {
	e.strategies[format] = s
	return e
}

// Extract runs the strategy for the submission's format. Any failure,
// including an unknown format, yields a degraded Result with placeholder
// text; downstream stages tolerate near-empty input and lower confidence.
func (e *Extractor) Extract(ctx context.Context, sub *models.DocumentSubmission, data []byte) *Result {
	format := FormatFor(sub.ContentType)

	strategy, ok := e.strategies[format]
	if !ok {
		e.logger.Warn("No extraction strategy for format",
			"content_type", sub.ContentType, "document_id", sub.ID)
		return &Result{Text: PlaceholderText, Degraded: true, Failure: "unsupported format"}
	}

	text, err := strategy.Extract(ctx, data, sub.ContentType)
	if err != nil {
		e.logger.Warn("Extraction degraded",
			"error", err, "format", string(format), "document_id", sub.ID)
		return &Result{Text: PlaceholderText, Degraded: true, Failure: err.Error()}
	}

	return &Result{Text: text}
}
