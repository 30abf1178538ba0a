// Package api is the HTTP surface of the extraction function: routing,
// multipart upload parsing, content-type checks and error mapping.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/Lllllllleong/documentextraction/internal/services"
	"github.com/google/uuid"
)

// Multipart field names accepted for the uploaded file, in lookup order.
var fileFields = []string{"image", "pdf_file", "file"}

// Legacy routes kept for existing clients.
var legacyRoutes = map[string]models.DocumentType{
	"/procesa_pasaporte/": models.Passport,
	"/procesa_fm/":        models.MigratoryForm,
	"/procesa_csf/":       models.TaxRecord,
	"/procesa_cedula/":    models.Credential,
	"/procesa_ine/":       models.IDCard,
}

// DocumentProcessor is the part of DocumentService the handler needs.
type DocumentProcessor interface {
	Process(ctx context.Context, doc models.RawDocument) (*models.ExtractionResult, error)
}

// Handler serves the extraction HTTP API.
type Handler struct {
	processor      DocumentProcessor
	maxUploadBytes int64
	logger         *slog.Logger
	mux            *http.ServeMux
}

// NewHandler builds the routes.
func NewHandler(processor DocumentProcessor, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = services.DefaultMaxUploadBytes
	}
	h := &Handler{processor: processor, maxUploadBytes: maxUploadBytes, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("POST /echo-image", h.echoImage)
	h.mux.HandleFunc("POST /echo-image/{$}", h.echoImage)
	h.mux.HandleFunc("POST /extract/{docType}", func(w http.ResponseWriter, r *http.Request) {
		h.extract(w, r, models.ParseDocumentType(r.PathValue("docType")))
	})
	for route, docType := range legacyRoutes {
		// {$} keeps the trailing-slash routes from matching as subtrees.
		h.mux.HandleFunc("POST "+route+"{$}", func(w http.ResponseWriter, r *http.Request) {
			h.extract(w, r, docType)
		})
	}
	return h
}

// ServeHTTP tags every request with an ID and dispatches it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-Id", requestID)
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// echoImage returns the uploaded image unchanged; used to check connectivity end to end.
func (h *Handler) echoImage(w http.ResponseWriter, r *http.Request) {
	file, header, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "uploaded file is not an image")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, file); err != nil {
		h.logger.Warn("Failed to echo image.", "error", err)
	}
}

func (h *Handler) extract(w http.ResponseWriter, r *http.Request, docType models.DocumentType) {
	logCtx := h.logger.With("requestId", w.Header().Get("X-Request-Id"), "docType", docType, "path", r.URL.Path)

	file, header, err := h.readUpload(w, r)
	if err != nil {
		logCtx.Warn("Could not read upload", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if msg := checkContentType(docType, contentType); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	content, err := services.ReadSource(services.StreamSource{Reader: file})
	if err != nil {
		logCtx.Error("Failed to read uploaded file", "error", err)
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}

	result, err := h.processor.Process(r.Context(), models.RawDocument{
		Content:  content,
		MIMEType: contentType,
		DocType:  docType,
		Filename: header.Filename,
	})
	if err != nil {
		status, body := mapError(err)
		if status >= http.StatusInternalServerError {
			logCtx.Error("Extraction failed", "error", err, "status", status)
		} else {
			logCtx.Warn("Extraction rejected", "error", err, "status", status)
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, result.Fields)
}

// readUpload returns the first file found under one of fileFields.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, nil, fmt.Errorf("could not parse multipart form: %w", err)
	}
	for _, field := range fileFields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
	}
	return nil, nil, fmt.Errorf("missing file field (one of %s)", strings.Join(fileFields, ", "))
}

// checkContentType applies the per-route upload rules. PDF document types
// need exactly application/pdf; everything else needs an image.
func checkContentType(docType models.DocumentType, contentType string) string {
	switch docType {
	case models.TaxRecord, models.Credential:
		if contentType != "application/pdf" {
			return "uploaded file is not a PDF; send Content-Type: application/pdf"
		}
	case models.Passport, models.MigratoryForm, models.IDCard:
		if !strings.HasPrefix(contentType, "image/") {
			return "uploaded file is not an image"
		}
	}
	return ""
}

// mapError turns a core error into an HTTP status and body.
func mapError(err error) (int, models.ErrorResponse) {
	var (
		unsupported *services.UnsupportedDocumentTypeError
		mismatch    *services.MIMEMismatchError
		notFound    *services.SourceNotFoundError
		openErr     *services.DocumentOpenError
		rasterErr   *services.RasterWriteError
		remoteErr   *services.RemoteServiceError
		transport   *services.TransportError
	)
	switch {
	case errors.As(err, &unsupported):
		return http.StatusNotFound, models.ErrorResponse{Error: unsupported.Error(), Details: unsupported.Valid}
	case errors.As(err, &mismatch):
		return http.StatusBadRequest, models.ErrorResponse{Error: mismatch.Error()}
	case errors.As(err, &notFound), errors.As(err, &openErr):
		return http.StatusBadRequest, models.ErrorResponse{Error: "could not open document", Details: err.Error()}
	case errors.As(err, &rasterErr):
		return http.StatusInternalServerError, models.ErrorResponse{Error: "failed to normalize document"}
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway, models.ErrorResponse{
			Error:   fmt.Sprintf("document ai error: %d", remoteErr.StatusCode),
			Details: remoteDetails(remoteErr.Body),
		}
	case errors.As(err, &transport):
		return http.StatusInternalServerError, models.ErrorResponse{Error: "failed to reach document ai"}
	default:
		return http.StatusInternalServerError, models.ErrorResponse{Error: "internal error"}
	}
}

// remoteDetails passes a JSON error body through as JSON, anything else as text.
func remoteDetails(body string) any {
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
