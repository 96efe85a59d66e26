package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-health/document-intake-api/internal/analyzer"
	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/db"
	"github.com/carelink-health/document-intake-api/internal/export"
	"github.com/carelink-health/document-intake-api/internal/extractor"
	"github.com/carelink-health/document-intake-api/internal/ingest"
	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/pipeline"
	"github.com/carelink-health/document-intake-api/internal/repository"
	"github.com/carelink-health/document-intake-api/internal/security"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

type stubCapability struct{}

func (stubCapability) Classify(ctx context.Context, text, filename string) (*analyzer.Classification, error) {
	return &analyzer.Classification{
		DocumentType: "lab_report",
		Confidence:   0.9,
		Summary:      "Routine labs.",
		KeyData:      map[string]interface{}{},
	}, nil
}

func (stubCapability) ExtractMedicalInfo(ctx context.Context, text string) (*models.MedicalInfo, error) {
	return nil, nil
}

type submissionFailRepo struct {
	repository.Repository
}

func (r *submissionFailRepo) CreateSubmission(ctx context.Context, sub *models.DocumentSubmission) error {
	return errors.New("database locked")
}

type handlerEnv struct {
	handler    *DocumentHandler
	store      *storage.MemoryStorage
	auditStore *audit.MemoryStore
}

func newHandlerEnv(t *testing.T, maxFileSize int64, wrapRepo func(repository.Repository) repository.Repository) *handlerEnv {
	t.Helper()

	logger := utils.NewLogger("error")

	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	store := storage.NewMemoryStorage()
	auditStore := audit.NewMemoryStore()
	auditLog := audit.NewLogger(auditStore, logger)

	var repo repository.Repository = repository.NewRepository(database)
	if wrapRepo != nil {
		repo = wrapRepo(repo)
	}

	gateway := ingest.NewGateway(store, auditLog, maxFileSize, logger)
	pipe := pipeline.New(
		security.NewScanner(store, auditLog, logger),
		extractor.New(nil, logger),
		analyzer.New(stubCapability{}, 5*time.Second, logger),
		repo,
		store,
		auditLog,
		2,
		logger,
	)
	exports := export.NewManager(repo, store, auditLog, nil, nil, "intake@clinic.example", logger)

	return &handlerEnv{
		handler:    NewDocumentHandler(gateway, pipe, exports, repo, maxFileSize, logger),
		store:      store,
		auditStore: auditStore,
	}
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func TestUploadDocument(t *testing.T) {
	env := newHandlerEnv(t, 1<<20, nil)
	body, contentType := multipartUpload(t, "labs.txt", []byte("CBC panel attached."))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	env.handler.UploadDocument(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var result models.ProcessingResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, "lab_report", result.DocumentType)
	assert.Equal(t, 1, env.auditStore.CountByType(result.DocumentID, models.EventSubmitted))
}

func TestUploadRejectsOversizedDeclaredLength(t *testing.T) {
	env := newHandlerEnv(t, 1<<10, nil)
	body, contentType := multipartUpload(t, "big.pdf", []byte("tiny"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = 150 << 20 // declared length; body never read

	w := httptest.NewRecorder()
	env.handler.UploadDocument(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// Nothing staged, and the edge rejection is still audited.
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, 1, env.auditStore.CountByType("", models.EventRejectedIngress))
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	env := newHandlerEnv(t, 1<<10, nil)
	body, contentType := multipartUpload(t, "big.txt", bytes.Repeat([]byte("x"), 4<<10))

	// Hide the length so the declared-length check cannot short-circuit and
	// the body-size limit has to fire while parsing.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", io.MultiReader(body))
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	env.handler.UploadDocument(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, 1, env.auditStore.CountByType("", models.EventRejectedIngress))
}

func TestUploadSubmissionPersistFailureReleasesStaging(t *testing.T) {
	env := newHandlerEnv(t, 1<<20, func(r repository.Repository) repository.Repository {
		return &submissionFailRepo{Repository: r}
	})
	body, contentType := multipartUpload(t, "labs.txt", []byte("CBC panel attached."))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	env.handler.UploadDocument(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The staged object does not outlive the failed submission.
	assert.Equal(t, 0, env.store.Len())
}

func TestUploadMissingFile(t *testing.T) {
	env := newHandlerEnv(t, 1<<20, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("submitted_by", "dr-adams"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	env.handler.UploadDocument(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
