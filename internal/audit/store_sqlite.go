package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carelink-health/document-intake-api/internal/models"
)

type sqliteStore struct {
	db *sqlx.DB
}

var _ Store = (*sqliteStore)(nil)

// NewSQLiteStore returns a Store backed by the audit_entries table. The table
// has no UPDATE or DELETE path; the monotonically increasing seq comes from
// the autoincrement column.
func NewSQLiteStore(db *sqlx.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_entries (document_id, event_type, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	res, err := s.db.ExecContext(ctx, query,
		entry.DocumentID,
		entry.EventType,
		entry.Actor,
		string(detailJSON),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if seq, err := res.LastInsertId(); err == nil {
		entry.Seq = seq
	}

	return nil
}

func (s *sqliteStore) ListByDocument(ctx context.Context, documentID string) ([]models.AuditEntry, error) {
	query := `
		SELECT seq, document_id, event_type, actor, detail, created_at
		FROM audit_entries
		WHERE document_id = $1
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var detailJSON string
		if err := rows.Scan(&entry.Seq, &entry.DocumentID, &entry.EventType, &entry.Actor, &detailJSON, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if detailJSON != "" {
			if err := json.Unmarshal([]byte(detailJSON), &entry.Detail); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
