package audit

import (
	"context"
	"sync"
	"time"

	"github.com/carelink-health/document-intake-api/internal/models"
)

// MemoryStore is an in-process append-only Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	nextSeq int64
	entries []models.AuditEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextSeq: 1}
}

func (m *MemoryStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.Seq = m.nextSeq
	m.nextSeq++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MemoryStore) ListByDocument(ctx context.Context, documentID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range m.entries {
		if e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CountByType reports how many entries of the given event type exist for a
// document. Test helper.
func (m *MemoryStore) CountByType(documentID, eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.DocumentID == documentID && e.EventType == eventType {
			n++
		}
	}
	return n
}
