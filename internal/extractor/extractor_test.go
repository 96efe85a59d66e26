package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

func TestTextStrategy(t *testing.T) {
	s := &textStrategy{}

	text, err := s.Extract(context.Background(), []byte("Referral for John Doe\r\n\r\nSee attached labs.\n"), "text/plain")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	want := "Referral for John Doe\nSee attached labs."
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestTextStrategyUTF8BOM(t *testing.T) {
	s := &textStrategy{}

	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	text, err := s.Extract(context.Background(), data, "text/plain")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if text != "hello" {
		t.Errorf("got %q, want %q", text, "hello")
	}
}

func TestTextStrategyEmpty(t *testing.T) {
	s := &textStrategy{}

	if _, err := s.Extract(context.Background(), nil, "text/plain"); err == nil {
		t.Error("expected error for empty file")
	}
}

func TestDocxStrategy(t *testing.T) {
	s := &docxStrategy{}

	data := buildDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Discharge summary</w:t></w:r></w:p>
    <w:p><w:r><w:t>Patient stable.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := s.Extract(context.Background(), data, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}

	if !strings.Contains(text, "Discharge summary") || !strings.Contains(text, "Patient stable.") {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestDocxStrategyNotZip(t *testing.T) {
	s := &docxStrategy{}

	if _, err := s.Extract(context.Background(), []byte("not a zip"), ""); err == nil {
		t.Error("expected error for non-zip input")
	}
}

func TestPDFStrategyMalformed(t *testing.T) {
	s := &pdfStrategy{}

	if _, err := s.Extract(context.Background(), []byte("%PDF-garbage"), "application/pdf"); err == nil {
		t.Error("expected error for malformed PDF")
	}
}

type stubVision struct {
	text string
	err  error
}

func (v *stubVision) ExtractImageText(ctx context.Context, data []byte, contentType string) (string, error) {
	return v.text, v.err
}

func TestOCRStrategyDelegates(t *testing.T) {
	s := &ocrStrategy{vision: &stubVision{text: "Lab values: WBC 7.2"}}

	text, err := s.Extract(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if text != "Lab values: WBC 7.2" {
		t.Errorf("got %q", text)
	}
}

func TestExtractorDegradesOnStrategyFailure(t *testing.T) {
	logger := utils.NewLogger("error")
	e := New(&stubVision{err: errors.New("capability unavailable")}, logger)

	sub := &models.DocumentSubmission{ID: "doc-1", ContentType: "image/png"}
	result := e.Extract(context.Background(), sub, []byte{0x89, 'P', 'N', 'G'})

	if !result.Degraded {
		t.Error("expected degraded result")
	}
	if result.Text != PlaceholderText {
		t.Errorf("got %q, want placeholder", result.Text)
	}
	if result.Failure == "" {
		t.Error("expected failure reason")
	}
}

func TestExtractorUnknownFormatDegrades(t *testing.T) {
	logger := utils.NewLogger("error")
	e := New(nil, logger)

	sub := &models.DocumentSubmission{ID: "doc-2", ContentType: "application/zip"}
	result := e.Extract(context.Background(), sub, []byte("data"))

	if !result.Degraded {
		t.Error("expected degraded result for unknown format")
	}
}

func TestFormatFor(t *testing.T) {
	cases := map[string]Format{
		"text/plain":      FormatText,
		"application/pdf": FormatPDF,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
		"image/png":  FormatImage,
		"image/jpeg": FormatImage,
		"image/tiff": FormatImage,
		"video/mp4":  FormatUnknown,
	}

	for contentType, want := range cases {
		if got := FormatFor(contentType); got != want {
			t.Errorf("FormatFor(%q) = %q, want %q", contentType, got, want)
		}
	}
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	f, err := w.Create("word/document.xml")
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(documentXML)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	return buf.Bytes()
}
