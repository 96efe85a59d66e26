// Package security screens staged documents before any further processing. A
// failed scan is a value, never an error: it short-circuits the pipeline into
// a terminal rejected result.
package security

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

// Threat labels. Enumerable so callers and audits can act on them.
const (
	ThreatSizeMismatch       = "declared-size-mismatch"
	ThreatStagingUnreadable  = "staging-unreadable"
	ThreatScriptTag          = "script-tag-detected"
	ThreatScriptURI          = "script-uri-detected"
	ThreatInlineEventHandler = "inline-event-handler-detected"
	ThreatMalformedPDF       = "malformed-pdf"
	ThreatContentMismatch    = "content-type-mismatch"
)

var (
	scriptTagPattern    = regexp.MustCompile(`(?i)<\s*script`)
	scriptURIPattern    = regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`)
	eventHandlerPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// imageMagic maps image MIME types to accepted leading byte signatures.
var imageMagic = map[string][][]byte{
	"image/png":  {{0x89, 'P', 'N', 'G'}},
	"image/jpeg": {{0xFF, 0xD8, 0xFF}},
	"image/tiff": {{'I', 'I', 0x2A, 0x00}, {'M', 'M', 0x00, 0x2A}},
}

type Scanner struct {
	storage  storage.Storage
	auditLog *audit.Logger
	logger   *utils.Logger
}

func NewScanner(store storage.Storage, auditLog *audit.Logger, logger *utils.Logger) *Scanner {
	return &Scanner{storage: store, auditLog: auditLog, logger: logger}
}

// Scan re-verifies the staged bytes against the declared size and runs the
// per-format content checks. The outcome is audited whether it passed or not.
func (s *Scanner) Scan(ctx context.Context, sub *models.DocumentSubmission) models.SecurityScanOutcome {
	var threats []string

	stagedSize, err := s.storage.Stat(ctx, sub.StagingKey)
	if err != nil {
		s.logger.Error("Failed to stat staged document", "error", err, "document_id", sub.ID)
		threats = append(threats, ThreatStagingUnreadable)
	} else if stagedSize != sub.FileSize {
		threats = append(threats, ThreatSizeMismatch)
	}

	if len(threats) == 0 {
		data, err := s.storage.Download(ctx, sub.StagingKey)
		if err != nil {
			s.logger.Error("Failed to read staged document", "error", err, "document_id", sub.ID)
			threats = append(threats, ThreatStagingUnreadable)
		} else {
			threats = append(threats, s.contentThreats(sub.ContentType, data)...)
		}
	}

	outcome := models.SecurityScanOutcome{
		Passed:  len(threats) == 0,
		Threats: threats,
	}

	s.auditLog.Event(ctx, sub.ID, models.EventSecurityScan, "system", map[string]interface{}{
		"passed":  outcome.Passed,
		"threats": outcome.Threats,
	})

	if !outcome.Passed {
		s.logger.Warn("Security scan failed",
			"document_id", sub.ID, "threats", strings.Join(threats, ","))
	}

	return outcome
}

// contentThreats runs the check appropriate for the declared format. New
// binary-format checks slot in here without touching the scan flow.
func (s *Scanner) contentThreats(contentType string, data []byte) []string {
	switch contentType {
	case "text/plain":
		return scriptThreats(data)
	case "application/pdf":
		return s.pdfThreats(data)
	case "image/png", "image/jpeg", "image/tiff":
		return imageThreats(contentType, data)
	default:
		// DOCX and other container formats: no content inspection yet.
		return nil
	}
}

// scriptThreats flags executable-script indicators in text content.
func scriptThreats(data []byte) []string {
	var threats []string
	if scriptTagPattern.Match(data) {
		threats = append(threats, ThreatScriptTag)
	}
	if scriptURIPattern.Match(data) {
		threats = append(threats, ThreatScriptURI)
	}
	if eventHandlerPattern.Match(data) {
		threats = append(threats, ThreatInlineEventHandler)
	}
	return threats
}

// pdfThreats validates PDF structure. A document that fails relaxed
// validation is treated as hostile rather than merely unreadable.
func (s *Scanner) pdfThreats(data []byte) []string {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return []string{ThreatMalformedPDF}
	}
	return nil
}

// imageThreats verifies the leading bytes match the declared image type.
func imageThreats(contentType string, data []byte) []string {
	signatures := imageMagic[contentType]
	for _, sig := range signatures {
		if len(data) >= len(sig) && bytes.Equal(data[:len(sig)], sig) {
			return nil
		}
	}
	return []string{ThreatContentMismatch}
}
