package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/google/uuid"
)

const (
	// DefaultRequestTimeout bounds one call to Document AI.
	DefaultRequestTimeout = 60 * time.Second

	maxErrorBodyBytes = 8 << 10
)

// TokenProvider supplies a bearer token for Document AI. It is called once per
// request; implementations are responsible for their own caching.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ExtractionClient sends documents to the Document AI processor registered
// for their type and flattens the response. Calls are never retried.
type ExtractionClient struct {
	httpClient *http.Client
	registry   *Registry
	tokens     TokenProvider
	logger     *slog.Logger
}

// NewExtractionClient creates a client. A zero timeout selects DefaultRequestTimeout.
func NewExtractionClient(registry *Registry, tokens TokenProvider, timeout time.Duration, logger *slog.Logger) *ExtractionClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionClient{
		httpClient: &http.Client{Timeout: timeout},
		registry:   registry,
		tokens:     tokens,
		logger:     logger,
	}
}

// Extract resolves docType, sends src to its processor and returns the flattened fields.
// Errors are *UnsupportedDocumentTypeError, *MIMEMismatchError, *SourceNotFoundError,
// *RemoteServiceError or *TransportError.
func (c *ExtractionClient) Extract(ctx context.Context, src Source, mimeType string, docType models.DocumentType) (models.FieldMap, error) {
	desc, err := c.registry.Resolve(docType)
	if err != nil {
		return nil, err
	}
	if !desc.Accepts(mimeType) {
		return nil, &MIMEMismatchError{DocType: docType, Got: mimeType, Expected: desc.ExpectedMIME}
	}

	reqID := uuid.New().String()
	logCtx := c.logger.With("req_id", reqID, "docType", docType)
	start := time.Now()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		logCtx.Error("Failed to obtain access token.", "error", err)
		return nil, &TransportError{Message: "failed to obtain access token", Err: err}
	}

	content, err := Encode(src)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(models.ProcessRequest{
		RawDocument: models.InlineDocument{MimeType: normalizeMIME(mimeType), Content: content},
	})
	if err != nil {
		return nil, &TransportError{Message: "failed to encode request", Err: err}
	}

	// The remote call is not abandoned if the caller goes away; the client timeout still bounds it.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, desc.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	logCtx.Info("Sending document to Document AI.", "content_length", len(payload))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logCtx.Error("Document AI request failed.", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &TransportError{Message: "document ai request failed", Err: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			logCtx.Warn("Failed to close response body.", "error", err)
		}
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: "failed to read document ai response", Err: err}
	}
	logCtx = logCtx.With("status", resp.StatusCode, "bytes", len(body), "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		logCtx.Error("Document AI returned an error status.", "body", truncate(string(body), maxErrorBodyBytes))
		return nil, &RemoteServiceError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBodyBytes)}
	}

	fields, err := FlattenResponse(body)
	if err != nil {
		logCtx.Error("Failed to decode Document AI response.", "error", err)
		return nil, &TransportError{Message: "failed to decode document ai response", Err: err}
	}
	if len(fields) == 0 {
		logCtx.Warn("Document AI response contained no entities.")
	}
	logCtx.Info("Document AI extraction complete.", "fieldCount", len(fields))
	return fields, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}
