package models

import "time"

// Audit event types emitted at stage boundaries and transmission attempts.
const (
	EventSubmitted          = "submitted"
	EventRejectedIngress    = "rejected-ingress"
	EventRejectedScan       = "rejected-scan"
	EventSecurityScan       = "security-scan"
	EventExtractionStarted  = "extraction-started"
	EventExtractionDegraded = "extraction-degraded"
	EventAnalysisStarted    = "analysis-started"
	EventAnalysisDegraded   = "analysis-degraded"
	EventComplianceChecked  = "compliance-checked"
	EventCompleted          = "completed"
	EventTransmission       = "transmission"
)

// AuditEntry is one append-only record of a stage transition or transmission
// event. Entries are never updated or deleted; Seq is assigned by the store.
type AuditEntry struct {
	Seq        int64                  `json:"seq" db:"seq"`
	DocumentID string                 `json:"document_id" db:"document_id"`
	EventType  string                 `json:"event_type" db:"event_type"`
	Actor      string                 `json:"actor" db:"actor"`
	Detail     map[string]interface{} `json:"detail,omitempty" db:"-"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}
