package models

import (
	"strings"
	"time"
)

// DocumentType is the logical category of an uploaded document. It selects
// the Document AI processor and the MIME type that processor accepts.
type DocumentType string

const (
	Passport      DocumentType = "passport"
	MigratoryForm DocumentType = "migratory_form"
	TaxRecord     DocumentType = "tax_record"
	Credential    DocumentType = "credential"
	IDCard        DocumentType = "id_card"
)

// AllDocumentTypes lists every document type the service knows about.
var AllDocumentTypes = []DocumentType{Passport, MigratoryForm, TaxRecord, Credential, IDCard}

// Legacy route names from the first version of the API.
var documentTypeAliases = map[string]DocumentType{
	"pasaporte": Passport,
	"fm":        MigratoryForm,
	"csf":       TaxRecord,
	"cedula":    Credential,
	"ine":       IDCard,
}

// ParseDocumentType maps a selector (canonical name or legacy alias) to a DocumentType.
// Unknown selectors are returned as-is so the registry can report them.
func ParseDocumentType(s string) DocumentType {
	key := strings.ToLower(strings.TrimSpace(s))
	if dt, ok := documentTypeAliases[key]; ok {
		return dt
	}
	return DocumentType(key)
}

// RawDocument is one uploaded document as handed over by the inbound layer.
type RawDocument struct {
	Content  []byte
	MIMEType string
	DocType  DocumentType
	Filename string
}

// FieldMap is the flattened extraction result: entity type -> value.
type FieldMap map[string]string

// ExtractionResult is what DocumentService returns for a processed document.
type ExtractionResult struct {
	DocumentType DocumentType `json:"documentType"`
	Fields       FieldMap     `json:"fields"`
	PageCount    int          `json:"pageCount,omitempty"`
	Normalized   bool         `json:"normalized"`
}

// Extraction statuses stored in Firestore.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Extraction represents the Firestore record for a bucket-triggered extraction job.
// It tracks status and where the flattened result was written; it never holds the document itself.
type Extraction struct {
	FileHash     string       `firestore:"fileHash,omitempty"`
	SourceObject string       `firestore:"sourceObject,omitempty"`
	DocumentType DocumentType `firestore:"documentType,omitempty"`
	Status       string       `firestore:"status,omitempty"`
	ErrorDetails string       `firestore:"errorDetails,omitempty"`
	PageCount    int          `firestore:"pageCount,omitempty"`
	FieldCount   int          `firestore:"fieldCount,omitempty"`
	ResultGCSUri string       `firestore:"resultGcsUri,omitempty"`
	CreatedAt    time.Time    `firestore:"createdAt,omitempty"`
}
