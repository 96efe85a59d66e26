package extractor

import (
	"context"
	"fmt"
	"strings"
)

// ocrStrategy delegates image text extraction to the external vision
// capability. The capability being down or returning nothing is a degraded
// extraction, surfaced as an error here and converted by the Extractor.
type ocrStrategy struct {
	vision VisionCapability
}

var _ Strategy = (*ocrStrategy)(nil)

func (s *ocrStrategy) Extract(ctx context.Context, data []byte, contentType string) (string, error) {
	if s.vision == nil {
		return "", fmt.Errorf("no vision capability configured")
	}

	text, err := s.vision.ExtractImageText(ctx, data, contentType)
	if err != nil {
		return "", fmt.Errorf("OCR capability failed: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("OCR returned no text")
	}

	return text, nil
}
