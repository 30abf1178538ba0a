package services

import (
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

// UnsupportedDocumentTypeError is returned when a document type has no registered endpoint.
type UnsupportedDocumentTypeError struct {
	Requested models.DocumentType
	Valid     []models.DocumentType
}

func (e *UnsupportedDocumentTypeError) Error() string {
	valid := make([]string, len(e.Valid))
	for i, v := range e.Valid {
		valid[i] = string(v)
	}
	return fmt.Sprintf("unsupported document type %q (valid types: %s)", e.Requested, strings.Join(valid, ", "))
}

// MIMEMismatchError is returned when a payload's MIME type is not what the endpoint expects.
type MIMEMismatchError struct {
	DocType  models.DocumentType
	Got      string
	Expected string
}

func (e *MIMEMismatchError) Error() string {
	return fmt.Sprintf("document type %q expects %s, got %q", e.DocType, e.Expected, e.Got)
}

// SourceNotFoundError is returned when a path source does not exist.
type SourceNotFoundError struct {
	Path string
	Err  error
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source not found: %s", e.Path)
}

func (e *SourceNotFoundError) Unwrap() error { return e.Err }

// DocumentOpenError is returned when a PDF is missing or cannot be parsed.
type DocumentOpenError struct {
	Path string
	Err  error
}

func (e *DocumentOpenError) Error() string {
	return fmt.Sprintf("failed to open PDF %s: %v", e.Path, e.Err)
}

func (e *DocumentOpenError) Unwrap() error { return e.Err }

// RasterWriteError is returned when the composite image could not be produced.
type RasterWriteError struct {
	Path string
	Err  error
}

func (e *RasterWriteError) Error() string {
	return fmt.Sprintf("failed to write composite image %s: %v", e.Path, e.Err)
}

func (e *RasterWriteError) Unwrap() error { return e.Err }

// RemoteServiceError is returned when Document AI answers with a non-2xx status.
// Body is the (possibly truncated) response body.
type RemoteServiceError struct {
	StatusCode int
	Body       string
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("document ai returned status %d: %s", e.StatusCode, e.Body)
}

// TransportError covers network failures, timeouts, credential failures and
// undecodable responses.
type TransportError struct {
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Err }
