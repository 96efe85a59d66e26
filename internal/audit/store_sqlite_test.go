package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-health/document-intake-api/internal/db"
	"github.com/carelink-health/document-intake-api/internal/models"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()

	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	return NewSQLiteStore(database)
}

func TestSQLiteStoreAppendAssignsIncreasingSeq(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	first := &models.AuditEntry{DocumentID: "doc-1", EventType: models.EventSubmitted, Actor: "dr-adams"}
	second := &models.AuditEntry{DocumentID: "doc-1", EventType: models.EventSecurityScan, Actor: "system"}

	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	assert.Greater(t, first.Seq, int64(0))
	assert.Greater(t, second.Seq, first.Seq)
}

func TestSQLiteStoreListByDocument(t *testing.T) {
	store := newSQLiteTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &models.AuditEntry{
		DocumentID: "doc-1",
		EventType:  models.EventSubmitted,
		Actor:      "dr-adams",
		Detail:     map[string]interface{}{"filename": "labs.txt"},
	}))
	require.NoError(t, store.Append(ctx, &models.AuditEntry{
		DocumentID: "doc-1",
		EventType:  models.EventSecurityScan,
		Actor:      "system",
	}))
	require.NoError(t, store.Append(ctx, &models.AuditEntry{
		DocumentID: "doc-2",
		EventType:  models.EventSubmitted,
		Actor:      "dr-bell",
	}))

	entries, err := store.ListByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Entries come back in commit order with detail intact.
	assert.Equal(t, models.EventSubmitted, entries[0].EventType)
	assert.Equal(t, "labs.txt", entries[0].Detail["filename"])
	assert.Equal(t, models.EventSecurityScan, entries[1].EventType)
	assert.Less(t, entries[0].Seq, entries[1].Seq)

	empty, err := store.ListByDocument(ctx, "doc-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
