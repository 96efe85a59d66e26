// Package analyzer derives a document classification and structured medical
// data from extracted text via an external reasoning capability. A
// partially-unavailable capability degrades quality, never availability: a
// malformed response or timeout substitutes a low-confidence default instead
// of propagating an error.
package analyzer

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

// ErrMalformedResponse marks a capability response that failed to decode into
// the expected structure. An invalid shape is a capability failure, not a
// caller bug.
var ErrMalformedResponse = errors.New("malformed capability response")

// Classification is the typed result of the document-type call.
type Classification struct {
	DocumentType string                 `json:"document_type"`
	Confidence   float64                `json:"confidence"`
	Summary      string                 `json:"summary"`
	KeyData      map[string]interface{} `json:"key_data"`
}

// Capability is the external classification/extraction collaborator. The two
// operations are independent and may run concurrently.
type Capability interface {
	Classify(ctx context.Context, text, filename string) (*Classification, error)
	ExtractMedicalInfo(ctx context.Context, text string) (*models.MedicalInfo, error)
}

// Defaults substituted when a call degrades.
const (
	UnknownDocumentType = "Unknown"
	DegradedConfidence  = 0.1
)

// Analysis joins the two capability results. Degraded reports whether either
// call fell back to defaults.
type Analysis struct {
	Classification Classification
	MedicalInfo    *models.MedicalInfo
	Degraded       bool
	DegradedReason string
}

type Analyzer struct {
	capability Capability
	timeout    time.Duration
	logger     *utils.Logger
}

func New(capability Capability, timeout time.Duration, logger *utils.Logger) *Analyzer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Analyzer{capability: capability, timeout: timeout, logger: logger}
}

// Analyze runs the classification and medical-entity calls concurrently and
// joins them. Each call recovers locally: a failure on one side degrades only
// that side's fields.
func (a *Analyzer) Analyze(ctx context.Context, text, filename string) *Analysis {
	analysis := &Analysis{}

	var classification *Classification
	var medicalInfo *models.MedicalInfo
	var classifyErr, extractErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, a.timeout)
		defer cancel()
		classification, classifyErr = a.capability.Classify(callCtx, text, filename)
		return nil
	})

	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, a.timeout)
		defer cancel()
		medicalInfo, extractErr = a.capability.ExtractMedicalInfo(callCtx, text)
		return nil
	})

	// Both goroutines always return nil; errors degrade rather than cancel.
	_ = g.Wait()

	if classifyErr != nil || classification == nil {
		a.logger.Warn("Classification degraded", "error", classifyErr, "filename", filename)
		analysis.Degraded = true
		analysis.DegradedReason = degradedReason(classifyErr)
		analysis.Classification = Classification{
			DocumentType: UnknownDocumentType,
			Confidence:   DegradedConfidence,
			KeyData:      map[string]interface{}{},
		}
	} else {
		classification.Confidence = models.ClampConfidence(classification.Confidence)
		if classification.KeyData == nil {
			classification.KeyData = map[string]interface{}{}
		}
		analysis.Classification = *classification
	}

	if extractErr != nil {
		a.logger.Warn("Medical entity extraction degraded", "error", extractErr)
		analysis.Degraded = true
		if analysis.DegradedReason == "" {
			analysis.DegradedReason = degradedReason(extractErr)
		}
		analysis.MedicalInfo = nil
	} else {
		analysis.MedicalInfo = medicalInfo
	}

	return analysis
}

func degradedReason(err error) string {
	switch {
	case err == nil:
		return "empty capability response"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed capability response"
	case errors.Is(err, context.DeadlineExceeded):
		return "capability timeout"
	default:
		return err.Error()
	}
}
