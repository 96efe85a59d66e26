package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-health/document-intake-api/internal/analyzer"
	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/db"
	"github.com/carelink-health/document-intake-api/internal/extractor"
	"github.com/carelink-health/document-intake-api/internal/ingest"
	"github.com/carelink-health/document-intake-api/internal/models"
	"github.com/carelink-health/document-intake-api/internal/repository"
	"github.com/carelink-health/document-intake-api/internal/security"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

type stubCapability struct {
	classification *analyzer.Classification
	classifyErr    error
	medicalInfo    *models.MedicalInfo
	extractErr     error
}

func (s *stubCapability) Classify(ctx context.Context, text, filename string) (*analyzer.Classification, error) {
	if s.classifyErr != nil {
		return nil, s.classifyErr
	}
	// Copy so the pipeline cannot share state between runs.
	c := *s.classification
	return &c, nil
}

func (s *stubCapability) ExtractMedicalInfo(ctx context.Context, text string) (*models.MedicalInfo, error) {
	if s.extractErr != nil {
		return nil, s.extractErr
	}
	if s.medicalInfo == nil {
		return nil, nil
	}
	mi := *s.medicalInfo
	return &mi, nil
}

type testEnv struct {
	gateway    *ingest.Gateway
	pipeline   *Pipeline
	repo       repository.Repository
	store      *storage.MemoryStorage
	auditStore *audit.MemoryStore
	auditLog   *audit.Logger
	logger     *utils.Logger
}

func newTestEnv(t *testing.T, cap analyzer.Capability) *testEnv {
	t.Helper()

	logger := utils.NewLogger("error")

	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	store := storage.NewMemoryStorage()
	auditStore := audit.NewMemoryStore()
	auditLog := audit.NewLogger(auditStore, logger)
	repo := repository.NewRepository(database)

	pipe := New(
		security.NewScanner(store, auditLog, logger),
		extractor.New(nil, logger),
		analyzer.New(cap, 5*time.Second, logger),
		repo,
		store,
		auditLog,
		2,
		logger,
	)

	return &testEnv{
		gateway:    ingest.NewGateway(store, auditLog, 100<<20, logger),
		pipeline:   pipe,
		repo:       repo,
		store:      store,
		auditStore: auditStore,
		auditLog:   auditLog,
		logger:     logger,
	}
}

func labReportCapability() *stubCapability {
	return &stubCapability{
		classification: &analyzer.Classification{
			DocumentType: "lab_report",
			Confidence:   0.92,
			Summary:      "Routine lab panel.",
			KeyData:      map[string]interface{}{"urgency": "routine"},
		},
		medicalInfo: &models.MedicalInfo{PatientName: "John Smith"},
	}
}

func submit(t *testing.T, env *testEnv, data []byte, filename, contentType string) *models.DocumentSubmission {
	t.Helper()
	sub, err := env.gateway.Submit(context.Background(), data, filename, contentType, "tester")
	require.NoError(t, err)
	require.NoError(t, env.repo.CreateSubmission(context.Background(), sub))
	return sub
}

func TestProcessEndToEnd(t *testing.T) {
	env := newTestEnv(t, labReportCapability())

	text := "Patient: John Smith\nSSN: 123-45-6789\nCBC results attached."
	sub := submit(t, env, []byte(text), "labs.txt", "text/plain")

	result, err := env.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.True(t, result.SecurityScan.Passed)
	assert.Equal(t, text, result.ExtractedText)
	assert.Equal(t, "lab_report", result.DocumentType)
	assert.Equal(t, 0.92, result.Confidence)
	assert.Contains(t, result.ComplianceFlags, models.FlagSSNPattern)
	assert.Contains(t, result.ComplianceFlags, models.FlagPatientNameExposed)
	assert.False(t, result.HIPAACompliant())
	assert.False(t, result.Degraded)

	// Terminal result is persisted and queryable.
	stored, err := env.repo.GetResultByDocument(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, result.ID, stored.ID)
	assert.Equal(t, "lab_report", stored.DocumentType)

	// Completed runs keep the staged original for later export.
	assert.True(t, env.store.Exists(sub.StagingKey))

	// Full audit trail for the run.
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventSecurityScan))
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventExtractionStarted))
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventAnalysisStarted))
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventComplianceChecked))
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventCompleted))
}

func TestProcessRejectsScriptInjection(t *testing.T) {
	env := newTestEnv(t, labReportCapability())

	sub := submit(t, env, []byte(`<script>document.location='http://evil'</script>`), "note.txt", "text/plain")

	result, err := env.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, result.Status)
	assert.False(t, result.SecurityScan.Passed)
	assert.Contains(t, result.SecurityScan.Threats, security.ThreatScriptTag)
	assert.Empty(t, result.ExtractedText)

	// No extraction stage ran after the failed scan.
	assert.Equal(t, 0, env.auditStore.CountByType(sub.ID, models.EventExtractionStarted))
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventRejectedScan))

	// Rejected runs release their staging file.
	assert.False(t, env.store.Exists(sub.StagingKey))

	// The rejected result is still persisted.
	stored, err := env.repo.GetResultByDocument(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.StatusRejected, stored.Status)
}

func TestProcessMalformedCapabilityResponseDegrades(t *testing.T) {
	env := newTestEnv(t, &stubCapability{
		classifyErr: fmt.Errorf("%w: not json", analyzer.ErrMalformedResponse),
		extractErr:  fmt.Errorf("%w: not json", analyzer.ErrMalformedResponse),
	})

	sub := submit(t, env, []byte("An unreadable but safe document."), "odd.txt", "text/plain")

	result, err := env.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)

	// The pipeline completes; it never throws out of the analyzer.
	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.Equal(t, analyzer.UnknownDocumentType, result.DocumentType)
	assert.Equal(t, analyzer.DegradedConfidence, result.Confidence)
	assert.True(t, result.Degraded)

	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventAnalysisDegraded))
}

func TestProcessDegradedExtractionCapsConfidence(t *testing.T) {
	// Image submission with no vision capability: extraction degrades, and a
	// confident classification of placeholder text must not be trusted.
	env := newTestEnv(t, labReportCapability())

	data := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, []byte("pixels")...)
	sub := submit(t, env, data, "scan.png", "image/png")

	result, err := env.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, result.Status)
	assert.True(t, result.Degraded)
	assert.Equal(t, extractor.PlaceholderText, result.ExtractedText)
	assert.LessOrEqual(t, result.Confidence, analyzer.DegradedConfidence)
	assert.Equal(t, 1, env.auditStore.CountByType(sub.ID, models.EventExtractionDegraded))
}

func TestProcessDeterministicAcrossRuns(t *testing.T) {
	env := newTestEnv(t, labReportCapability())

	data := []byte("Patient: John Smith\nSSN: 123-45-6789")

	subA := submit(t, env, data, "a.txt", "text/plain")
	subB := submit(t, env, data, "a.txt", "text/plain")

	resultA, err := env.pipeline.Process(context.Background(), subA)
	require.NoError(t, err)
	resultB, err := env.pipeline.Process(context.Background(), subB)
	require.NoError(t, err)

	assert.Equal(t, resultA.DocumentType, resultB.DocumentType)
	assert.Equal(t, resultA.KeyData, resultB.KeyData)
	assert.Equal(t, resultA.ComplianceFlags, resultB.ComplianceFlags)
	assert.Equal(t, resultA.Confidence, resultB.Confidence)
}

type resultFailRepo struct {
	repository.Repository
}

func (r *resultFailRepo) SaveResult(ctx context.Context, result *models.ProcessingResult) error {
	return errors.New("disk full")
}

func TestProcessPersistFailureReleasesStaging(t *testing.T) {
	env := newTestEnv(t, labReportCapability())

	pipe := New(
		security.NewScanner(env.store, env.auditLog, env.logger),
		extractor.New(nil, env.logger),
		analyzer.New(labReportCapability(), 5*time.Second, env.logger),
		&resultFailRepo{Repository: env.repo},
		env.store,
		env.auditLog,
		2,
		env.logger,
	)

	sub := submit(t, env, []byte("routine note"), "note.txt", "text/plain")

	_, err := pipe.Process(context.Background(), sub)
	require.Error(t, err)

	// The staged object never outlives an unrecoverable run.
	assert.False(t, env.store.Exists(sub.StagingKey))
}

func TestProcessConfidenceAlwaysInRange(t *testing.T) {
	env := newTestEnv(t, &stubCapability{
		classification: &analyzer.Classification{DocumentType: "lab_report", Confidence: 3.5},
	})

	sub := submit(t, env, []byte("some report"), "r.txt", "text/plain")

	result, err := env.pipeline.Process(context.Background(), sub)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Confidence, 0.0)
	assert.LessOrEqual(t, result.Confidence, 1.0)
}
