package models

import (
	"time"
)

// RunStatus tracks a document's position in the processing state machine.
// No status is ever re-entered for the same run.
type RunStatus string

const (
	StatusSubmitted          RunStatus = "submitted"
	StatusScanning           RunStatus = "scanning"
	StatusRejected           RunStatus = "rejected"
	StatusExtracting         RunStatus = "extracting"
	StatusAnalyzing          RunStatus = "analyzing"
	StatusComplianceChecking RunStatus = "compliance_checking"
	StatusCompleted          RunStatus = "completed"
)

// Compliance flag taxonomy. Flags are advisory: they mark a result for human
// review but never block completion.
const (
	FlagPatientNameExposed = "patient-name-exposed"
	FlagPatientIDExposed   = "patient-id-exposed"
	FlagDOBExposed         = "dob-exposed"
	FlagSSNPattern         = "ssn-pattern-detected"
	FlagPaymentCardPattern = "payment-card-pattern-detected"
)

// DocumentSubmission is the unit of work accepted at ingress. Immutable once
// the security scan begins; StagingKey points at the staged bytes, which are
// owned exclusively by the submission until handed to extraction.
type DocumentSubmission struct {
	ID          string    `json:"id" db:"id"`
	Filename    string    `json:"filename" db:"filename"`
	ContentType string    `json:"content_type" db:"content_type"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	StagingKey  string    `json:"staging_key" db:"staging_key"`
	SubmittedBy string    `json:"submitted_by" db:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at" db:"submitted_at"`
}

// SecurityScanOutcome is a value, not an error: a failed scan is a normal,
// representable result of the scan stage.
type SecurityScanOutcome struct {
	Passed  bool     `json:"passed"`
	Threats []string `json:"threats,omitempty"`
}

// MedicalInfo is the structured medical-entity block extracted from document
// text. Every field is optional since extraction may be partial.
type MedicalInfo struct {
	PatientName string            `json:"patient_name,omitempty"`
	PatientID   string            `json:"patient_id,omitempty"`
	DateOfBirth string            `json:"date_of_birth,omitempty"`
	Diagnoses   []string          `json:"diagnoses,omitempty"`
	Medications []string          `json:"medications,omitempty"`
	Procedures  []string          `json:"procedures,omitempty"`
	Allergies   []string          `json:"allergies,omitempty"`
	Vitals      map[string]string `json:"vitals,omitempty"`
}

// ProcessingResult is the pipeline's output record, built incrementally as
// stages complete and persisted once the run reaches a terminal status.
type ProcessingResult struct {
	ID              string                 `json:"id" db:"id"`
	DocumentID      string                 `json:"document_id" db:"document_id"`
	Status          RunStatus              `json:"status" db:"status"`
	ExtractedText   string                 `json:"extracted_text,omitempty" db:"extracted_text"`
	DocumentType    string                 `json:"document_type" db:"document_type"`
	Confidence      float64                `json:"confidence" db:"confidence"`
	Summary         string                 `json:"summary,omitempty" db:"summary"`
	KeyData         map[string]interface{} `json:"key_data,omitempty" db:"-"`
	MedicalInfo     *MedicalInfo           `json:"medical_info,omitempty" db:"-"`
	ComplianceFlags []string               `json:"compliance_flags" db:"-"`
	SecurityScan    SecurityScanOutcome    `json:"security_scan" db:"-"`
	Degraded        bool                   `json:"degraded" db:"degraded"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// HIPAACompliant is derived, never stored: a result is compliant exactly when
// no compliance flag was raised.
func (r *ProcessingResult) HIPAACompliant() bool {
	return len(r.ComplianceFlags) == 0
}

// ClampConfidence forces a confidence score into [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TransmissionRecord captures one delivery attempt of a processed document.
// Append-only; immutable once created.
type TransmissionRecord struct {
	ID          string    `json:"id" db:"id"`
	ResultID    string    `json:"result_id" db:"result_id"`
	Channel     string    `json:"channel" db:"channel"`
	Recipient   string    `json:"recipient" db:"recipient"`
	Success     bool      `json:"success" db:"success"`
	MessageID   string    `json:"message_id,omitempty" db:"message_id"`
	FaxJobID    string    `json:"fax_job_id,omitempty" db:"fax_job_id"`
	ErrorDetail string    `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Transmission channels.
const (
	ChannelDownload = "download"
	ChannelEmail    = "email"
	ChannelFax      = "fax"
)
