// Package ingest accepts uploaded documents, validates them against the size
// ceiling and format allow-list, and stages the bytes under a generated key.
// Nothing is written to staging before validation passes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

var (
	ErrPayloadTooLarge   = errors.New("payload exceeds size ceiling")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyFile         = errors.New("uploaded file is empty")
)

// allowedTypes is the document/image format allow-list.
var allowedTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
	"image/png":  true,
	"image/jpeg": true,
	"image/tiff": true,
}

// extensionByType maps accepted MIME types to the staging file extension.
var extensionByType = map[string]string{
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/plain": ".txt",
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/tiff": ".tif",
}

type Gateway struct {
	storage     storage.Storage
	auditLog    *audit.Logger
	maxFileSize int64
	logger      *utils.Logger
}

func NewGateway(store storage.Storage, auditLog *audit.Logger, maxFileSize int64, logger *utils.Logger) *Gateway {
	return &Gateway{
		storage:     store,
		auditLog:    auditLog,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Submit validates and stages an upload. Rejections happen before any staging
// write and are audited as rejected-ingress; acceptance is audited as
// submitted. The staging key is derived from the generated submission id,
// never the client-supplied filename.
func (g *Gateway) Submit(ctx context.Context, fileBytes []byte, filename, declaredMIME, actor string) (*models.DocumentSubmission, error) {
	contentType := DetermineContentType(filename, declaredMIME)

	if err := g.validate(fileBytes, contentType); err != nil {
		g.logger.Warn("Submission rejected at ingress",
			"filename", filename, "content_type", contentType, "size", len(fileBytes), "error", err)
		g.auditLog.Event(ctx, "", models.EventRejectedIngress, actor, map[string]interface{}{
			"filename":     filename,
			"content_type": contentType,
			"size":         len(fileBytes),
			"reason":       err.Error(),
		})
		return nil, err
	}

	id := utils.GenerateID()
	stagingKey := fmt.Sprintf("staging/%s%s", id, extensionByType[contentType])

	if err := g.storage.Upload(ctx, stagingKey, fileBytes, contentType); err != nil {
		g.logger.Error("Failed to stage upload", "error", err, "staging_key", stagingKey)
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	sub := &models.DocumentSubmission{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		FileSize:    int64(len(fileBytes)),
		StagingKey:  stagingKey,
		SubmittedBy: actor,
		SubmittedAt: time.Now().UTC(),
	}

	g.auditLog.Event(ctx, sub.ID, models.EventSubmitted, actor, map[string]interface{}{
		"filename":     filename,
		"content_type": contentType,
		"size":         sub.FileSize,
	})

	g.logger.Info("Document submitted",
		"id", sub.ID, "filename", filename, "content_type", contentType, "size", sub.FileSize)

	return sub, nil
}

// RejectOversized audits an upload refused at the transport edge, where only
// the declared length is known and the body was never read. Always returns
// ErrPayloadTooLarge so handlers map it the same way as a Submit rejection.
func (g *Gateway) RejectOversized(ctx context.Context, filename string, declaredSize int64, actor string) error {
	g.logger.Warn("Submission rejected at ingress",
		"filename", filename, "declared_size", declaredSize, "error", ErrPayloadTooLarge)
	g.auditLog.Event(ctx, "", models.EventRejectedIngress, actor, map[string]interface{}{
		"filename":      filename,
		"declared_size": declaredSize,
		"reason":        ErrPayloadTooLarge.Error(),
	})
	return ErrPayloadTooLarge
}

// Discard deletes a submission's staged object when a failure after staging
// leaves the submission unpersisted. Nothing else references the object at
// that point.
func (g *Gateway) Discard(ctx context.Context, sub *models.DocumentSubmission) {
	if err := g.storage.Delete(ctx, sub.StagingKey); err != nil {
		g.logger.Error("Failed to delete staged document",
			"error", err, "staging_key", sub.StagingKey)
	}
}

func (g *Gateway) validate(fileBytes []byte, contentType string) error {
	if int64(len(fileBytes)) > g.maxFileSize {
		return ErrPayloadTooLarge
	}
	if len(fileBytes) == 0 {
		return ErrEmptyFile
	}
	if !allowedTypes[contentType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}
	return nil
}

// DetermineContentType resolves the effective MIME type from the filename
// extension, falling back to the declared header value.
func DetermineContentType(filename, headerContentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	}

	return headerContentType
}
