// Package export assembles processed-document artifacts and delivers them
// over download, email and fax channels. Every transmission attempt, failed
// or not, leaves a TransmissionRecord and an audit entry.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/compliance"
	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/repository"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

// Transmission failure codes. CodeUnverifiedSender is distinguishable so
// operators can fix the sender identity instead of retrying blindly.
const (
	CodeUnverifiedSender = "unverified-sender"
	CodeDeliveryFailed   = "delivery-failed"
)

// ErrUnverifiedSender is returned by channel clients when the provider
// rejects the sender identity.
var ErrUnverifiedSender = errors.New("sender identity not verified")

// ErrResultNotFound is returned when the referenced result does not exist.
var ErrResultNotFound = errors.New("processing result not found")

// TransmissionError is the typed failure surfaced for email/fax attempts.
type TransmissionError struct {
	Channel string
	Code    string
	Reason  string
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("transmission failed on %s (%s): %s", e.Channel, e.Code, e.Reason)
}

// EmailParams configure one email transmission.
type EmailParams struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Note           string `json:"note"`
	IncludeSummary bool   `json:"include_summary"`
}

// FaxParams configure one fax transmission.
type FaxParams struct {
	To             string `json:"to"`
	IncludeSummary bool   `json:"include_summary"`
}

// Artifact is an exportable payload.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// EmailMessage is the payload handed to an email channel client.
type EmailMessage struct {
	From       string
	To         string
	Subject    string
	Text       string
	Attachment *Artifact
}

// FaxJob is the payload handed to a fax channel client.
type FaxJob struct {
	To       string
	Document Artifact
}

// EmailClient delivers an email and returns the provider message id.
type EmailClient interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// FaxClient transmits a fax and returns the provider job id.
type FaxClient interface {
	Send(ctx context.Context, job FaxJob) (string, error)
}

type Manager struct {
	repo     repository.Repository
	storage  storage.Storage
	auditLog *audit.Logger
	email    EmailClient
	fax      FaxClient
	fromAddr string
	logger   *utils.Logger
}

func NewManager(
	repo repository.Repository,
	store storage.Storage,
	auditLog *audit.Logger,
	email EmailClient,
	fax FaxClient,
	fromAddr string,
	logger *utils.Logger,
) *Manager {
	return &Manager{
		repo:     repo,
		storage:  store,
		auditLog: auditLog,
		email:    email,
		fax:      fax,
		fromAddr: fromAddr,
		logger:   logger,
	}
}

// ExportOriginal returns the staged source bytes of a completed result and
// records the download.
func (m *Manager) ExportOriginal(ctx context.Context, resultID, actor string) (*Artifact, error) {
	result, sub, err := m.load(ctx, resultID)
	if err != nil {
		return nil, err
	}

	data, err := m.storage.Download(ctx, sub.StagingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load staged original: %w", err)
	}

	artifact := &Artifact{
		Filename:    sub.Filename,
		ContentType: sub.ContentType,
		Data:        data,
	}

	m.recordDownload(ctx, result, sub, actor, "original")

	return artifact, nil
}

// ExportSummaryReport returns a compliance-scrubbed plain-text report of the
// analysis.
func (m *Manager) ExportSummaryReport(ctx context.Context, resultID, actor string) (*Artifact, error) {
	result, sub, err := m.load(ctx, resultID)
	if err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Filename:    fmt.Sprintf("summary-%s.txt", result.ID),
		ContentType: "text/plain",
		Data:        []byte(m.summaryReport(result, sub)),
	}

	m.recordDownload(ctx, result, sub, actor, "summary")

	return artifact, nil
}

// ExportAnnotated returns a JSON bundle of the extracted text plus the full
// analysis, for downstream systems.
func (m *Manager) ExportAnnotated(ctx context.Context, resultID, actor string) (*Artifact, error) {
	result, sub, err := m.load(ctx, resultID)
	if err != nil {
		return nil, err
	}

	bundle := map[string]interface{}{
		"document": sub,
		"result":   result,
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to build annotated bundle: %w", err)
	}

	artifact := &Artifact{
		Filename:    fmt.Sprintf("annotated-%s.json", result.ID),
		ContentType: "application/json",
		Data:        data,
	}

	m.recordDownload(ctx, result, sub, actor, "annotated")

	return artifact, nil
}

// TransmitByEmail delivers the original document (optionally with the
// scrubbed summary in the body) to a recipient. A TransmissionRecord and
// audit entry are persisted whether or not delivery succeeds; failure comes
// back as a *TransmissionError.
func (m *Manager) TransmitByEmail(ctx context.Context, resultID string, params EmailParams, actor string) (*models.TransmissionRecord, error) {
	result, sub, err := m.load(ctx, resultID)
	if err != nil {
		return nil, err
	}

	original, err := m.storage.Download(ctx, sub.StagingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load staged original: %w", err)
	}

	body := params.Note
	if params.IncludeSummary {
		if body != "" {
			body += "\n\n"
		}
		body += m.summaryReport(result, sub)
	}
	if body == "" {
		body = fmt.Sprintf("Attached: %s", sub.Filename)
	}

	subject := params.Subject
	if subject == "" {
		subject = fmt.Sprintf("Clinical document: %s", sub.Filename)
	}

	msg := EmailMessage{
		From:    m.fromAddr,
		To:      params.To,
		Subject: subject,
		Text:    body,
		Attachment: &Artifact{
			Filename:    sub.Filename,
			ContentType: sub.ContentType,
			Data:        original,
		},
	}

	messageID, sendErr := m.email.Send(ctx, msg)

	rec := &models.TransmissionRecord{
		ID:        utils.GenerateID(),
		ResultID:  result.ID,
		Channel:   models.ChannelEmail,
		Recipient: params.To,
		Success:   sendErr == nil,
		MessageID: messageID,
		CreatedAt: time.Now().UTC(),
	}

	return m.commit(ctx, sub, rec, actor, sendErr)
}

// TransmitByFax delivers the original document to a fax number. Same
// record-and-audit contract as email.
func (m *Manager) TransmitByFax(ctx context.Context, resultID string, params FaxParams, actor string) (*models.TransmissionRecord, error) {
	result, sub, err := m.load(ctx, resultID)
	if err != nil {
		return nil, err
	}

	var document Artifact
	if params.IncludeSummary {
		document = Artifact{
			Filename:    fmt.Sprintf("summary-%s.txt", result.ID),
			ContentType: "text/plain",
			Data:        []byte(m.summaryReport(result, sub)),
		}
	} else {
		original, err := m.storage.Download(ctx, sub.StagingKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load staged original: %w", err)
		}
		document = Artifact{
			Filename:    sub.Filename,
			ContentType: sub.ContentType,
			Data:        original,
		}
	}

	jobID, sendErr := m.fax.Send(ctx, FaxJob{To: params.To, Document: document})

	rec := &models.TransmissionRecord{
		ID:        utils.GenerateID(),
		ResultID:  result.ID,
		Channel:   models.ChannelFax,
		Recipient: params.To,
		Success:   sendErr == nil,
		FaxJobID:  jobID,
		CreatedAt: time.Now().UTC(),
	}

	return m.commit(ctx, sub, rec, actor, sendErr)
}

// ListTransmissions returns the delivery history of a result.
func (m *Manager) ListTransmissions(ctx context.Context, resultID string) ([]models.TransmissionRecord, error) {
	if result, err := m.repo.GetResult(ctx, resultID); err != nil {
		return nil, err
	} else if result == nil {
		return nil, ErrResultNotFound
	}
	return m.repo.ListTransmissions(ctx, resultID)
}

func (m *Manager) load(ctx context.Context, resultID string) (*models.ProcessingResult, *models.DocumentSubmission, error) {
	result, err := m.repo.GetResult(ctx, resultID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load result: %w", err)
	}
	if result == nil {
		return nil, nil, ErrResultNotFound
	}

	sub, err := m.repo.GetSubmission(ctx, result.DocumentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load submission: %w", err)
	}
	if sub == nil {
		return nil, nil, fmt.Errorf("submission %s missing for result %s", result.DocumentID, result.ID)
	}

	return result, sub, nil
}

// commit persists the record and audit entry for an attempt, then maps a
// channel failure into the typed error.
func (m *Manager) commit(ctx context.Context, sub *models.DocumentSubmission, rec *models.TransmissionRecord, actor string, sendErr error) (*models.TransmissionRecord, error) {
	if sendErr != nil {
		rec.ErrorDetail = sendErr.Error()
	}

	if err := m.repo.CreateTransmission(ctx, rec); err != nil {
		m.logger.Error("Failed to persist transmission record",
			"error", err, "transmission_id", rec.ID, "channel", rec.Channel)
		return nil, fmt.Errorf("failed to persist transmission record: %w", err)
	}

	m.auditLog.Event(ctx, sub.ID, models.EventTransmission, actor, map[string]interface{}{
		"transmission_id": rec.ID,
		"channel":         rec.Channel,
		"recipient":       rec.Recipient,
		"success":         rec.Success,
	})

	if sendErr != nil {
		code := CodeDeliveryFailed
		if errors.Is(sendErr, ErrUnverifiedSender) {
			code = CodeUnverifiedSender
		}
		m.logger.Warn("Transmission failed",
			"transmission_id", rec.ID, "channel", rec.Channel, "code", code, "error", sendErr)
		return rec, &TransmissionError{Channel: rec.Channel, Code: code, Reason: sendErr.Error()}
	}

	m.logger.Info("Transmission delivered",
		"transmission_id", rec.ID, "channel", rec.Channel, "recipient", rec.Recipient)

	return rec, nil
}

func (m *Manager) recordDownload(ctx context.Context, result *models.ProcessingResult, sub *models.DocumentSubmission, actor, variant string) {
	rec := &models.TransmissionRecord{
		ID:        utils.GenerateID(),
		ResultID:  result.ID,
		Channel:   models.ChannelDownload,
		Recipient: actor,
		Success:   true,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.repo.CreateTransmission(ctx, rec); err != nil {
		m.logger.Error("Failed to persist download record", "error", err, "result_id", result.ID)
	}

	m.auditLog.Event(ctx, sub.ID, models.EventTransmission, actor, map[string]interface{}{
		"transmission_id": rec.ID,
		"channel":         models.ChannelDownload,
		"variant":         variant,
		"success":         true,
	})
}

// summaryReport renders the scrubbed plain-text report used by email bodies
// and summary exports.
func (m *Manager) summaryReport(result *models.ProcessingResult, sub *models.DocumentSubmission) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Document: %s\n", sub.Filename)
	fmt.Fprintf(&b, "Type: %s (confidence %.2f)\n", result.DocumentType, result.Confidence)
	fmt.Fprintf(&b, "Processed: %s\n", result.UpdatedAt.Format(time.RFC3339))
	if result.Degraded {
		b.WriteString("Note: processing was degraded; review recommended.\n")
	}
	b.WriteString("\n")
	b.WriteString(compliance.Scrub(result.Summary))
	b.WriteString("\n")

	if len(result.ComplianceFlags) > 0 {
		fmt.Fprintf(&b, "\nCompliance flags: %s\n", strings.Join(result.ComplianceFlags, ", "))
	}

	return b.String()
}
