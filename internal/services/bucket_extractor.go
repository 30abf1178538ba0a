package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentextraction/internal/gcp"
	"github.com/Lllllllleong/documentextraction/internal/models"
)

// BucketExtractorConfig holds configuration for the bucket-triggered extractor.
type BucketExtractorConfig struct {
	ProjectID      string
	ResultsBucket  string
	CollectionName string
	MaxObjectBytes int64
}

// ObjectStore reads trigger objects and writes results. gcp.GCSStore implements it.
type ObjectStore interface {
	ReadObject(ctx context.Context, bucket, object string, maxBytes int64) ([]byte, error)
	WriteIfAbsent(ctx context.Context, bucket, object, contentType string, content []byte) error
}

// ExtractionStore persists extraction status records. gcp.ExtractionRecords implements it.
type ExtractionStore interface {
	FindByHash(ctx context.Context, fileHash string) (string, bool, error)
	Create(ctx context.Context, record models.Extraction) (string, error)
	Update(ctx context.Context, id string, updates []firestore.Update) error
}

// BucketExtractorFunction extracts fields from documents dropped into a bucket
// and records the outcome in Firestore. Only results are stored, never the document.
type BucketExtractorFunction struct {
	objects ObjectStore
	records ExtractionStore
	service *DocumentService
	config  BucketExtractorConfig
}

func loadBucketExtractorConfig() (*BucketExtractorConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	resultsBucket := gcp.GetEnv("RESULTS_BUCKET", "")
	if resultsBucket == "" {
		return nil, fmt.Errorf("RESULTS_BUCKET environment variable must be set")
	}
	return &BucketExtractorConfig{
		ProjectID:      projectID,
		ResultsBucket:  resultsBucket,
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "extractions"),
		MaxObjectBytes: gcp.GetEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
	}, nil
}

// NewBucketExtractor creates a new BucketExtractorFunction instance.
func NewBucketExtractor(ctx context.Context) (*BucketExtractorFunction, error) {
	config, err := loadBucketExtractorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	extractorConfig, err := LoadExtractorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load extractor configuration: %w", err)
	}

	service, err := NewDocumentServiceFromConfig(ctx, extractorConfig, slog.Default())
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	slog.Info("Bucket extractor initialized.", "resultsBucket", config.ResultsBucket, "collection", config.CollectionName)
	return newBucketExtractor(
		gcp.NewGCSStore(storageClient),
		gcp.NewExtractionRecords(firestoreClient, config.CollectionName),
		service,
		*config,
	), nil
}

func newBucketExtractor(objects ObjectStore, records ExtractionStore, service *DocumentService, config BucketExtractorConfig) *BucketExtractorFunction {
	return &BucketExtractorFunction{objects: objects, records: records, service: service, config: config}
}

// Process handles one finalized object. Objects are named <docType>/<file>.
func (f *BucketExtractorFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	docType, ok := DocumentTypeFromObjectName(e.Name)
	if !ok {
		logCtx.Warn("Object is not under a document type prefix. Skipping.")
		return nil
	}
	if _, err := f.service.Registry().Resolve(docType); err != nil {
		logCtx.Warn("Object prefix is not a registered document type. Skipping.", "error", err)
		return nil
	}
	logCtx = logCtx.With("docType", docType)
	logCtx.Info("Processing new GCS object.")

	content, err := f.objects.ReadObject(ctx, e.Bucket, e.Name, f.config.MaxObjectBytes)
	if err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return err
	}

	fileHash := hashContent(content)
	logCtx = logCtx.With("fileHash", fileHash)

	existingID, dup, err := f.records.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if dup {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existingID)
		return nil
	}

	docID, err := f.records.Create(ctx, models.Extraction{
		FileHash:     fileHash,
		SourceObject: e.Name,
		DocumentType: docType,
		Status:       models.StatusProcessing,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		logCtx.Error("Failed to create initial Firestore record", "error", err)
		return err
	}
	logCtx = logCtx.With("documentId", docID)

	result, err := f.service.Process(ctx, models.RawDocument{
		Content:  content,
		MIMEType: e.ContentType,
		DocType:  docType,
		Filename: path.Base(e.Name),
	})
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "extraction failed", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to marshal extraction result", err)
	}
	objectName := docID + ".json"
	if err := f.objects.WriteIfAbsent(ctx, f.config.ResultsBucket, objectName, "application/json", payload); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to save extraction result", err)
	}

	resultURI := fmt.Sprintf("gs://%s/%s", f.config.ResultsBucket, objectName)
	updates := []firestore.Update{
		{Path: "status", Value: models.StatusCompleted},
		{Path: "fieldCount", Value: len(result.Fields)},
		{Path: "pageCount", Value: result.PageCount},
		{Path: "resultGcsUri", Value: resultURI},
	}
	if err := f.records.Update(ctx, docID, updates); err != nil {
		return f.handleError(ctx, logCtx, docID, "failed to update status to COMPLETED", err)
	}
	logCtx.Info("Extraction complete.", "resultGcsUri", resultURI, "fieldCount", len(result.Fields))
	return nil
}

func (f *BucketExtractorFunction) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	updates := []firestore.Update{
		{Path: "status", Value: models.StatusFailed},
		{Path: "errorDetails", Value: fmt.Sprintf("%s: %v", message, originalErr)},
	}
	if err := f.records.Update(ctx, docID, updates); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// DocumentTypeFromObjectName reads the document type from the first path
// segment of an object name, e.g. "csf/2024/acme.pdf" -> tax_record.
func DocumentTypeFromObjectName(name string) (models.DocumentType, bool) {
	prefix, rest, found := strings.Cut(strings.TrimPrefix(name, "/"), "/")
	if !found || prefix == "" || rest == "" || strings.HasSuffix(rest, "/") {
		return "", false
	}
	return models.ParseDocumentType(prefix), true
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
