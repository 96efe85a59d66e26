package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/carelink-health/document-intake-api/internal/export"
	"github.com/carelink-health/document-intake-api/internal/ingest"
	"github.com/carelink-health/document-intake-api/internal/pipeline"
	"github.com/carelink-health/document-intake-api/internal/repository"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

type DocumentHandler struct {
	gateway     *ingest.Gateway
	pipeline    *pipeline.Pipeline
	exports     *export.Manager
	repo        repository.Repository
	maxFileSize int64
	logger      *utils.Logger
}

func NewDocumentHandler(
	gateway *ingest.Gateway,
	pipe *pipeline.Pipeline,
	exports *export.Manager,
	repo repository.Repository,
	maxFileSize int64,
	logger *utils.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		gateway:     gateway,
		pipeline:    pipe,
		exports:     exports,
		repo:        repo,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// UploadDocument accepts a multipart upload, submits it through the gateway
// and runs the pipeline synchronously, returning the terminal result.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	// Reject oversized requests before reading the body. The rejection still
	// gets its rejected-ingress audit entry even though the gateway's Submit
	// never runs.
	if r.ContentLength > h.maxFileSize {
		h.respondError(w, mapIngestError(h.gateway.RejectOversized(r.Context(), "", r.ContentLength, h.actor(r))))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			h.respondError(w, mapIngestError(h.gateway.RejectOversized(r.Context(), "", r.ContentLength, h.actor(r))))
			return
		}
		h.respondError(w, utils.NewBadRequestError("Invalid form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("No file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		h.respondError(w, utils.NewInternalError("Failed to read file"))
		return
	}

	actor := r.FormValue("submitted_by")
	if actor == "" {
		actor = "anonymous"
	}

	sub, err := h.gateway.Submit(r.Context(), data, header.Filename, header.Header.Get("Content-Type"), actor)
	if err != nil {
		h.respondError(w, mapIngestError(err))
		return
	}

	if err := h.repo.CreateSubmission(r.Context(), sub); err != nil {
		h.logger.Error("Failed to persist submission", "error", err, "id", sub.ID)
		h.gateway.Discard(r.Context(), sub)
		h.respondError(w, utils.NewInternalError("Failed to save submission"))
		return
	}

	result, err := h.pipeline.Process(r.Context(), sub)
	if err != nil {
		h.logger.Error("Pipeline run failed", "error", err, "id", sub.ID)
		h.respondError(w, utils.NewInternalError("Failed to process document"))
		return
	}

	h.respondJSON(w, http.StatusCreated, result)
}

// GetResult returns the processing result for a document submission.
func (h *DocumentHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := h.repo.GetResultByDocument(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get result", "error", err, "document_id", id)
		h.respondError(w, utils.NewInternalError("Failed to retrieve result"))
		return
	}
	if result == nil {
		h.respondError(w, utils.NewNotFoundError("Document not found"))
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// DownloadOriginal streams the staged source document.
func (h *DocumentHandler) DownloadOriginal(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, h.exports.ExportOriginal)
}

// DownloadSummaryReport streams the scrubbed summary report.
func (h *DocumentHandler) DownloadSummaryReport(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, h.exports.ExportSummaryReport)
}

// DownloadAnnotated streams the annotated JSON bundle.
func (h *DocumentHandler) DownloadAnnotated(w http.ResponseWriter, r *http.Request) {
	h.serveArtifact(w, r, h.exports.ExportAnnotated)
}

// TransmitEmail sends the document by email and returns the transmission
// record. Channel failures surface with a 502 and the failure code.
func (h *DocumentHandler) TransmitEmail(w http.ResponseWriter, r *http.Request) {
	resultID, ok := h.resultIDFor(w, r)
	if !ok {
		return
	}

	var params export.EmailParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid request body"))
		return
	}
	if params.To == "" {
		h.respondError(w, utils.NewBadRequestError("Recipient address is required"))
		return
	}

	rec, err := h.exports.TransmitByEmail(r.Context(), resultID, params, h.actor(r))
	h.respondTransmission(w, rec, err)
}

// TransmitFax sends the document by fax and returns the transmission record.
func (h *DocumentHandler) TransmitFax(w http.ResponseWriter, r *http.Request) {
	resultID, ok := h.resultIDFor(w, r)
	if !ok {
		return
	}

	var params export.FaxParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid request body"))
		return
	}
	if params.To == "" {
		h.respondError(w, utils.NewBadRequestError("Recipient fax number is required"))
		return
	}

	rec, err := h.exports.TransmitByFax(r.Context(), resultID, params, h.actor(r))
	h.respondTransmission(w, rec, err)
}

// ListTransmissions returns the delivery history for a document's result.
func (h *DocumentHandler) ListTransmissions(w http.ResponseWriter, r *http.Request) {
	resultID, ok := h.resultIDFor(w, r)
	if !ok {
		return
	}

	records, err := h.exports.ListTransmissions(r.Context(), resultID)
	if err != nil {
		h.logger.Error("Failed to list transmissions", "error", err, "result_id", resultID)
		h.respondError(w, utils.NewInternalError("Failed to list transmissions"))
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"transmissions": records})
}

func (h *DocumentHandler) serveArtifact(w http.ResponseWriter, r *http.Request, exportFn func(ctx context.Context, resultID, actor string) (*export.Artifact, error)) {
	resultID, ok := h.resultIDFor(w, r)
	if !ok {
		return
	}

	artifact, err := exportFn(r.Context(), resultID, h.actor(r))
	if err != nil {
		if errors.Is(err, export.ErrResultNotFound) {
			h.respondError(w, utils.NewNotFoundError("Result not found"))
			return
		}
		h.logger.Error("Failed to build export artifact", "error", err, "result_id", resultID)
		h.respondError(w, utils.NewInternalError("Failed to export document"))
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(artifact.Data); err != nil {
		h.logger.Error("Failed to write export artifact", "error", err)
	}
}

func (h *DocumentHandler) resultIDFor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]

	result, err := h.repo.GetResultByDocument(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get result", "error", err, "document_id", id)
		h.respondError(w, utils.NewInternalError("Failed to retrieve result"))
		return "", false
	}
	if result == nil {
		h.respondError(w, utils.NewNotFoundError("Document not found"))
		return "", false
	}

	return result.ID, true
}

func (h *DocumentHandler) actor(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}

func (h *DocumentHandler) respondTransmission(w http.ResponseWriter, rec interface{}, err error) {
	if err != nil {
		var tErr *export.TransmissionError
		if errors.As(err, &tErr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":        tErr.Reason,
				"channel":      tErr.Channel,
				"code":         tErr.Code,
				"transmission": rec,
			})
			return
		}
		if errors.Is(err, export.ErrResultNotFound) {
			h.respondError(w, utils.NewNotFoundError("Result not found"))
			return
		}
		h.respondError(w, utils.NewInternalError("Failed to transmit document"))
		return
	}

	h.respondJSON(w, http.StatusCreated, rec)
}

func mapIngestError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrPayloadTooLarge):
		return utils.NewPayloadTooLargeError("File size exceeds the configured limit")
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return utils.NewUnsupportedFormatError(fmt.Sprintf("Unsupported file type: %v", err))
	case errors.Is(err, ingest.ErrEmptyFile):
		return utils.NewBadRequestError("Uploaded file is empty")
	default:
		return utils.NewInternalError("Failed to accept upload")
	}
}

func (h *DocumentHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *DocumentHandler) respondError(w http.ResponseWriter, err error) {
	var status int
	var message string

	switch e := err.(type) {
	case *utils.AppError:
		status = e.StatusCode
		message = e.Message
	default:
		status = http.StatusInternalServerError
		message = "Internal server error"
	}

	h.logger.Error("Request error", "status", status, "error", message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
