// Package audit provides the append-only audit trail required for every
// stage transition and transmission attempt. Entries are written before the
// triggering operation is considered complete and are never mutated.
package audit

import (
	"context"
	"time"

	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

// Store persists audit entries. Append-only by contract; implementations must
// be safe for concurrent writers.
type Store interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByDocument(ctx context.Context, documentID string) ([]models.AuditEntry, error)
}

// Logger is the audit front used by pipeline components. Log does not return
// until the entry is committed to the store.
type Logger struct {
	store  Store
	logger *utils.Logger
}

func NewLogger(store Store, logger *utils.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Log commits an entry. A store failure is reported to the caller but also
// logged here, since audit write failures are an operational incident of
// their own.
func (l *Logger) Log(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := l.store.Append(ctx, entry); err != nil {
		l.logger.Error("Failed to append audit entry",
			"error", err,
			"document_id", entry.DocumentID,
			"event_type", entry.EventType)
		return err
	}
	return nil
}

// Event is the convenience form used at stage boundaries.
func (l *Logger) Event(ctx context.Context, documentID, eventType, actor string, detail map[string]interface{}) {
	_ = l.Log(ctx, &models.AuditEntry{
		DocumentID: documentID,
		EventType:  eventType,
		Actor:      actor,
		Detail:     detail,
	})
}
