// Package pipeline sequences the intake stages for a single document:
// security scan, text extraction, clinical analysis, compliance check. Stages
// run in order per document; independent documents run concurrently under a
// bounded worker semaphore sized to the external capability's rate limits.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/carelink-health/document-intake-api/internal/analyzer"
	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/compliance"
	"github.com/carelink-health/document-intake-api/internal/extractor"
	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/repository"
	"github.com/carelink-health/document-intake-api/internal/security"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

type Pipeline struct {
	scanner   *security.Scanner
	extractor *extractor.Extractor
	analyzer  *analyzer.Analyzer
	repo      repository.Repository
	storage   storage.Storage
	auditLog  *audit.Logger
	logger    *utils.Logger

	sem chan struct{}
}

func New(
	scanner *security.Scanner,
	ext *extractor.Extractor,
	an *analyzer.Analyzer,
	repo repository.Repository,
	store storage.Storage,
	auditLog *audit.Logger,
	maxConcurrent int,
	logger *utils.Logger,
) *Pipeline {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pipeline{
		scanner:   scanner,
		extractor: ext,
		analyzer:  an,
		repo:      repo,
		storage:   store,
		auditLog:  auditLog,
		logger:    logger,
		sem:       make(chan struct{}, maxConcurrent),
	}
}

// Process runs the full state machine for one submission and persists the
// terminal ProcessingResult. A run that returns a result always returns a
// complete one: rejected after a failed scan, or completed (possibly
// degraded) otherwise. Nothing in here is fatal to the process.
func (p *Pipeline) Process(ctx context.Context, sub *models.DocumentSubmission) (*models.ProcessingResult, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()

	result := &models.ProcessingResult{
		ID:         utils.GenerateID(),
		DocumentID: sub.ID,
		Status:     models.StatusScanning,
		KeyData:    map[string]interface{}{},
		CreatedAt:  time.Now().UTC(),
	}

	// Scanning
	outcome := p.scanner.Scan(ctx, sub)
	result.SecurityScan = outcome

	if !outcome.Passed {
		result.Status = models.StatusRejected
		result.DocumentType = analyzer.UnknownDocumentType
		return p.finish(ctx, sub, result)
	}

	// Extracting
	result.Status = models.StatusExtracting
	p.auditLog.Event(ctx, sub.ID, models.EventExtractionStarted, "system", map[string]interface{}{
		"content_type": sub.ContentType,
	})

	data, err := p.storage.Download(ctx, sub.StagingKey)
	extraction := &extractor.Result{Text: extractor.PlaceholderText, Degraded: true, Failure: "staging unreadable"}
	if err != nil {
		p.logger.Error("Failed to read staged document for extraction",
			"error", err, "document_id", sub.ID)
	} else {
		extraction = p.extractor.Extract(ctx, sub, data)
	}

	result.ExtractedText = extraction.Text
	if extraction.Degraded {
		result.Degraded = true
		p.auditLog.Event(ctx, sub.ID, models.EventExtractionDegraded, "system", map[string]interface{}{
			"reason": extraction.Failure,
		})
	}

	// Analyzing
	result.Status = models.StatusAnalyzing
	p.auditLog.Event(ctx, sub.ID, models.EventAnalysisStarted, "system", map[string]interface{}{
		"text_length": len(result.ExtractedText),
	})

	analysis := p.analyzer.Analyze(ctx, result.ExtractedText, sub.Filename)
	result.DocumentType = analysis.Classification.DocumentType
	result.Confidence = models.ClampConfidence(analysis.Classification.Confidence)
	result.Summary = analysis.Classification.Summary
	result.KeyData = analysis.Classification.KeyData
	result.MedicalInfo = analysis.MedicalInfo

	if analysis.Degraded {
		result.Degraded = true
		p.auditLog.Event(ctx, sub.ID, models.EventAnalysisDegraded, "system", map[string]interface{}{
			"reason": analysis.DegradedReason,
		})
	}

	// Degraded extraction caps how much the analysis can be trusted.
	if extraction.Degraded && result.Confidence > analyzer.DegradedConfidence {
		result.Confidence = analyzer.DegradedConfidence
	}

	// Compliance check
	result.Status = models.StatusComplianceChecking
	result.ComplianceFlags = compliance.Check(result.ExtractedText, result.MedicalInfo)
	p.auditLog.Event(ctx, sub.ID, models.EventComplianceChecked, "system", map[string]interface{}{
		"flags":           result.ComplianceFlags,
		"hipaa_compliant": result.HIPAACompliant(),
	})

	result.Status = models.StatusCompleted
	return p.finish(ctx, sub, result)
}

// finish persists the terminal result, audits the transition, and releases
// the staging file for rejected or unpersistable runs. Completed runs keep
// their staged original so export can serve it later.
func (p *Pipeline) finish(ctx context.Context, sub *models.DocumentSubmission, result *models.ProcessingResult) (*models.ProcessingResult, error) {
	if err := p.repo.SaveResult(ctx, result); err != nil {
		p.logger.Error("Failed to persist processing result",
			"error", err, "document_id", sub.ID, "result_id", result.ID)
		// An unrecoverable run still releases its staging file.
		if derr := p.storage.Delete(ctx, sub.StagingKey); derr != nil {
			p.logger.Error("Failed to delete staged document",
				"error", derr, "staging_key", sub.StagingKey)
		}
		return nil, fmt.Errorf("failed to persist processing result: %w", err)
	}

	event := models.EventCompleted
	if result.Status == models.StatusRejected {
		event = models.EventRejectedScan
	}
	p.auditLog.Event(ctx, sub.ID, event, "system", map[string]interface{}{
		"result_id":     result.ID,
		"status":        string(result.Status),
		"document_type": result.DocumentType,
		"confidence":    result.Confidence,
		"degraded":      result.Degraded,
	})

	if result.Status == models.StatusRejected {
		if err := p.storage.Delete(ctx, sub.StagingKey); err != nil {
			p.logger.Error("Failed to delete staged document",
				"error", err, "staging_key", sub.StagingKey)
		}
	}

	p.logger.Info("Pipeline run finished",
		"document_id", sub.ID,
		"result_id", result.ID,
		"status", string(result.Status),
		"document_type", result.DocumentType,
		"confidence", result.Confidence,
		"flags", len(result.ComplianceFlags))

	return result, nil
}
