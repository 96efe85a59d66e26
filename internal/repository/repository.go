package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carelink-health/document-intake-api/internal/models"
)

// Repository persists submissions, processing results and transmission
// records. Results are written once, when a run reaches a terminal status;
// transmissions are append-only.
type Repository interface {
	CreateSubmission(ctx context.Context, sub *models.DocumentSubmission) error
	GetSubmission(ctx context.Context, id string) (*models.DocumentSubmission, error)

	SaveResult(ctx context.Context, result *models.ProcessingResult) error
	GetResult(ctx context.Context, id string) (*models.ProcessingResult, error)
	GetResultByDocument(ctx context.Context, documentID string) (*models.ProcessingResult, error)

	CreateTransmission(ctx context.Context, rec *models.TransmissionRecord) error
	ListTransmissions(ctx context.Context, resultID string) ([]models.TransmissionRecord, error)
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateSubmission(ctx context.Context, sub *models.DocumentSubmission) error {
	query := `
		INSERT INTO document_submissions (id, filename, content_type, file_size, staging_key, submitted_by, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.Filename,
		sub.ContentType,
		sub.FileSize,
		sub.StagingKey,
		sub.SubmittedBy,
		sub.SubmittedAt,
	)

	return err
}

func (r *repository) GetSubmission(ctx context.Context, id string) (*models.DocumentSubmission, error) {
	var sub models.DocumentSubmission

	query := `
		SELECT id, filename, content_type, file_size, staging_key, submitted_by, submitted_at
		FROM document_submissions
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &sub, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

func (r *repository) SaveResult(ctx context.Context, result *models.ProcessingResult) error {
	keyDataJSON, err := json.Marshal(result.KeyData)
	if err != nil {
		return fmt.Errorf("failed to marshal key data: %w", err)
	}

	flagsJSON, err := json.Marshal(result.ComplianceFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance flags: %w", err)
	}

	threatsJSON, err := json.Marshal(result.SecurityScan.Threats)
	if err != nil {
		return fmt.Errorf("failed to marshal scan threats: %w", err)
	}

	var medicalInfoJSON sql.NullString
	if result.MedicalInfo != nil {
		data, err := json.Marshal(result.MedicalInfo)
		if err != nil {
			return fmt.Errorf("failed to marshal medical info: %w", err)
		}
		medicalInfoJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO processing_results (
			id, document_id, status, extracted_text, document_type, confidence,
			summary, key_data, medical_info, compliance_flags,
			scan_passed, scan_threats, degraded, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	now := time.Now().UTC()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, query,
		result.ID,
		result.DocumentID,
		string(result.Status),
		result.ExtractedText,
		result.DocumentType,
		result.Confidence,
		result.Summary,
		string(keyDataJSON),
		medicalInfoJSON,
		string(flagsJSON),
		result.SecurityScan.Passed,
		string(threatsJSON),
		result.Degraded,
		result.CreatedAt,
		result.UpdatedAt,
	)

	return err
}

func (r *repository) GetResult(ctx context.Context, id string) (*models.ProcessingResult, error) {
	return r.getResult(ctx, `WHERE id = $1`, id)
}

func (r *repository) GetResultByDocument(ctx context.Context, documentID string) (*models.ProcessingResult, error) {
	return r.getResult(ctx, `WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1`, documentID)
}

func (r *repository) getResult(ctx context.Context, where string, arg interface{}) (*models.ProcessingResult, error) {
	var result models.ProcessingResult
	var status string
	var keyDataJSON, flagsJSON, threatsJSON string
	var medicalInfoJSON sql.NullString

	query := `
		SELECT id, document_id, status, extracted_text, document_type, confidence,
		       summary, key_data, medical_info, compliance_flags,
		       scan_passed, scan_threats, degraded, created_at, updated_at
		FROM processing_results ` + where

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&result.ID,
		&result.DocumentID,
		&status,
		&result.ExtractedText,
		&result.DocumentType,
		&result.Confidence,
		&result.Summary,
		&keyDataJSON,
		&medicalInfoJSON,
		&flagsJSON,
		&result.SecurityScan.Passed,
		&threatsJSON,
		&result.Degraded,
		&result.CreatedAt,
		&result.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result.Status = models.RunStatus(status)

	if err := json.Unmarshal([]byte(keyDataJSON), &result.KeyData); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(flagsJSON), &result.ComplianceFlags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(threatsJSON), &result.SecurityScan.Threats); err != nil {
		return nil, err
	}
	if medicalInfoJSON.Valid && medicalInfoJSON.String != "" {
		var mi models.MedicalInfo
		if err := json.Unmarshal([]byte(medicalInfoJSON.String), &mi); err != nil {
			return nil, err
		}
		result.MedicalInfo = &mi
	}

	return &result, nil
}

func (r *repository) CreateTransmission(ctx context.Context, rec *models.TransmissionRecord) error {
	query := `
		INSERT INTO transmission_records (id, result_id, channel, recipient, success, message_id, fax_job_id, error_detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ResultID,
		rec.Channel,
		rec.Recipient,
		rec.Success,
		rec.MessageID,
		rec.FaxJobID,
		rec.ErrorDetail,
		rec.CreatedAt,
	)

	return err
}

func (r *repository) ListTransmissions(ctx context.Context, resultID string) ([]models.TransmissionRecord, error) {
	var records []models.TransmissionRecord

	query := `
		SELECT id, result_id, channel, recipient, success, message_id, fax_job_id, error_detail, created_at
		FROM transmission_records
		WHERE result_id = $1
		ORDER BY created_at ASC
	`

	err := r.db.SelectContext(ctx, &records, query, resultID)
	if err != nil {
		return nil, err
	}

	return records, nil
}
