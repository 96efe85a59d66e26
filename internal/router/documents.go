package router

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/carelink-health/document-intake-api/internal/handlers"
	"github.com/carelink-health/document-intake-api/internal/middleware"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

func NewRouter(docHandler *handlers.DocumentHandler, logger *utils.Logger) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	// Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Intake
	api.HandleFunc("/documents/upload", docHandler.UploadDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", docHandler.GetResult).Methods(http.MethodGet)

	// Export
	api.HandleFunc("/documents/{id}/download", docHandler.DownloadOriginal).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/report", docHandler.DownloadSummaryReport).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}/annotated", docHandler.DownloadAnnotated).Methods(http.MethodGet)

	// Transmissions
	api.HandleFunc("/documents/{id}/transmissions/email", docHandler.TransmitEmail).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/transmissions/fax", docHandler.TransmitFax).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}/transmissions", docHandler.ListTransmissions).Methods(http.MethodGet)

	return r
}
