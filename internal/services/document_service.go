package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultMaxUploadBytes caps uploaded and bucket-sourced documents.
const DefaultMaxUploadBytes = 20 << 20

// ExtractorConfig holds all configuration for the extraction service.
type ExtractorConfig struct {
	Processors     ProcessorConfig
	DPI            float64
	RequestTimeout time.Duration
	MaxUploadBytes int64
	StrictRegistry bool
	// StaticToken replaces Application Default Credentials when set.
	StaticToken string
}

// LoadExtractorConfig loads and validates the environment for the extraction service.
func LoadExtractorConfig() (*ExtractorConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	cfg := &ExtractorConfig{
		Processors: ProcessorConfig{
			ProjectID: projectID,
			Location:  gcp.GetEnv("DOCAI_LOCATION", "us"),
			BaseURL:   gcp.GetEnv("DOCAI_BASE_URL", ""),
			Processors: map[models.DocumentType]string{
				models.Passport:      gcp.GetEnv("PASSPORT_PROCESSOR_ID", ""),
				models.MigratoryForm: gcp.GetEnv("MIGRATORY_FORM_PROCESSOR_ID", ""),
				models.TaxRecord:     gcp.GetEnv("TAX_RECORD_PROCESSOR_ID", ""),
				models.Credential:    gcp.GetEnv("CREDENTIAL_PROCESSOR_ID", ""),
				models.IDCard:        gcp.GetEnv("ID_CARD_PROCESSOR_ID", ""),
			},
		},
		DPI:            float64(gcp.GetEnvInt64("RASTER_DPI", DefaultDPI)),
		RequestTimeout: gcp.GetEnvDuration("REQUEST_TIMEOUT", DefaultRequestTimeout),
		MaxUploadBytes: gcp.GetEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		StrictRegistry: gcp.GetEnvBool("STRICT_REGISTRY", false),
		StaticToken:    gcp.GetEnv("DOCAI_ACCESS_TOKEN", ""),
	}
	if len(DefaultDescriptors(cfg.Processors)) == 0 {
		return nil, fmt.Errorf("at least one *_PROCESSOR_ID environment variable must be set")
	}
	if cfg.DPI <= 0 || cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("RASTER_DPI and MAX_UPLOAD_BYTES must be positive")
	}
	return cfg, nil
}

// Extractor is the part of ExtractionClient that DocumentService depends on.
type Extractor interface {
	Extract(ctx context.Context, src Source, mimeType string, docType models.DocumentType) (models.FieldMap, error)
}

// DocumentService validates an upload, normalizes multi-page PDFs to one
// image and hands the result to the extraction client.
type DocumentService struct {
	registry   *Registry
	extractor  Extractor
	rasterizer *Rasterizer
	dpi        float64
	logger     *slog.Logger

	countPages func(rs io.ReadSeeker) (int, error)
	tempRoot   string
}

// NewDocumentService wires the service from its parts.
func NewDocumentService(registry *Registry, extractor Extractor, rasterizer *Rasterizer, dpi float64, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	if rasterizer == nil {
		rasterizer = NewRasterizer(nil, logger)
	}
	return &DocumentService{
		registry:   registry,
		extractor:  extractor,
		rasterizer: rasterizer,
		dpi:        dpi,
		logger:     logger,
		countPages: countPDFPages,
	}
}

func countPDFPages(rs io.ReadSeeker) (int, error) {
	return api.PageCount(rs, relaxedPDFConfig())
}

// NewDocumentServiceFromConfig builds the registry, token source and client from cfg.
func NewDocumentServiceFromConfig(ctx context.Context, cfg *ExtractorConfig, logger *slog.Logger) (*DocumentService, error) {
	registry, err := NewRegistry(logger, cfg.StrictRegistry, DefaultDescriptors(cfg.Processors)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build document type registry: %w", err)
	}

	var tokens TokenProvider
	if cfg.StaticToken != "" {
		tokens = gcp.StaticToken(cfg.StaticToken)
	} else {
		ts, err := gcp.NewDefaultTokenSource(ctx)
		if err != nil {
			return nil, err
		}
		tokens = ts
	}

	client := NewExtractionClient(registry, tokens, cfg.RequestTimeout, logger)
	return NewDocumentService(registry, client, NewRasterizer(nil, logger), cfg.DPI, logger), nil
}

// Registry exposes the service's document type registry.
func (s *DocumentService) Registry() *Registry { return s.registry }

// Process extracts the fields of doc. Wrong types and bad PDFs are rejected
// before any network call. Temporary files never outlive the call.
func (s *DocumentService) Process(ctx context.Context, doc models.RawDocument) (*models.ExtractionResult, error) {
	logCtx := s.logger.With("docType", doc.DocType, "mimeType", doc.MIMEType, "bytes", len(doc.Content))

	desc, err := s.registry.Resolve(doc.DocType)
	if err != nil {
		logCtx.Warn("Rejected unsupported document type.", "error", err)
		return nil, err
	}
	if !desc.Accepts(doc.MIMEType) {
		return nil, &MIMEMismatchError{DocType: doc.DocType, Got: doc.MIMEType, Expected: desc.ExpectedMIME}
	}

	result := &models.ExtractionResult{DocumentType: doc.DocType, PageCount: 1}
	src := Source(InMemorySource{Data: doc.Content})
	mimeType := doc.MIMEType

	if desc.RasterizePDF && normalizeMIME(doc.MIMEType) == mimePDF {
		pageCount, err := s.countPages(bytes.NewReader(doc.Content))
		if err != nil {
			return nil, &DocumentOpenError{Path: doc.Filename, Err: err}
		}
		if pageCount == 0 {
			return nil, &RasterWriteError{Path: doc.Filename, Err: errors.New("PDF has no pages")}
		}
		result.PageCount = pageCount

		if pageCount > 1 {
			tempDir, err := os.MkdirTemp(s.tempRoot, "docextract-*")
			if err != nil {
				return nil, &RasterWriteError{Path: "", Err: fmt.Errorf("failed to create temp dir: %w", err)}
			}
			defer func(dir string) {
				if err := os.RemoveAll(dir); err != nil {
					logCtx.Error("Failed to remove temp dir; leaking rasterization files.", "path", dir, "error", err)
				}
			}(tempDir)

			pdfPath := filepath.Join(tempDir, "source.pdf")
			if err := os.WriteFile(pdfPath, doc.Content, 0o600); err != nil {
				return nil, &RasterWriteError{Path: pdfPath, Err: err}
			}
			outPath := filepath.Join(tempDir, "composite.png")
			if _, err := s.rasterizer.RasterizeToSingleImage(ctx, pdfPath, outPath, s.dpi); err != nil {
				logCtx.Error("Failed to rasterize PDF.", "error", err)
				return nil, err
			}
			src = PathSource{Path: outPath}
			mimeType = desc.NormalizedMIME
			result.Normalized = true
		}
	}

	fields, err := s.extractor.Extract(ctx, src, mimeType, doc.DocType)
	if err != nil {
		return nil, err
	}
	result.Fields = fields
	logCtx.Info("Document processed.", "fieldCount", len(fields), "pageCount", result.PageCount, "normalized", result.Normalized)
	return result, nil
}
