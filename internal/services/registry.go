package services

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Lllllllleong/documentextraction/internal/models"
)

const (
	mimePDF = "application/pdf"
	mimePNG = "image/png"
)

// EndpointDescriptor binds a document type to its Document AI processor.
type EndpointDescriptor struct {
	DocType  models.DocumentType
	Endpoint string
	// ExpectedMIME is an exact type ("application/pdf") or a wildcard ("image/*").
	ExpectedMIME string
	// RasterizePDF marks endpoints whose multi-page PDFs are flattened to one image.
	RasterizePDF bool
	// NormalizedMIME is the type sent after rasterization.
	NormalizedMIME string
}

// Accepts reports whether mimeType may be sent to this endpoint.
func (d EndpointDescriptor) Accepts(mimeType string) bool {
	mimeType = normalizeMIME(mimeType)
	if d.NormalizedMIME != "" && mimeType == d.NormalizedMIME {
		return true
	}
	if prefix, ok := strings.CutSuffix(d.ExpectedMIME, "*"); ok {
		return strings.HasPrefix(mimeType, prefix) && len(mimeType) > len(prefix)
	}
	return mimeType == d.ExpectedMIME
}

// normalizeMIME drops parameters and lower-cases the type.
func normalizeMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// Registry maps document types to endpoints. It is built once and never mutated.
type Registry struct {
	byType map[models.DocumentType]EndpointDescriptor
	types  []models.DocumentType
	shared map[string][]models.DocumentType
}

// NewRegistry validates descriptors and builds the registry. Two document
// types pointing at one endpoint usually means a copy-pasted processor ID;
// it is logged, or rejected when strict is set.
func NewRegistry(logger *slog.Logger, strict bool, descriptors ...EndpointDescriptor) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("registry needs at least one endpoint descriptor")
	}

	r := &Registry{
		byType: make(map[models.DocumentType]EndpointDescriptor, len(descriptors)),
		shared: make(map[string][]models.DocumentType),
	}
	byEndpoint := make(map[string][]models.DocumentType)

	for _, d := range descriptors {
		if !slices.Contains(models.AllDocumentTypes, d.DocType) {
			return nil, fmt.Errorf("unknown document type %q in registry", d.DocType)
		}
		if d.Endpoint == "" {
			return nil, fmt.Errorf("document type %q has no endpoint", d.DocType)
		}
		if d.ExpectedMIME == "" {
			return nil, fmt.Errorf("document type %q has no expected MIME type", d.DocType)
		}
		if d.RasterizePDF && d.NormalizedMIME == "" {
			d.NormalizedMIME = mimePNG
		}
		if _, dup := r.byType[d.DocType]; dup {
			return nil, fmt.Errorf("document type %q registered twice", d.DocType)
		}
		r.byType[d.DocType] = d
		r.types = append(r.types, d.DocType)
		byEndpoint[d.Endpoint] = append(byEndpoint[d.Endpoint], d.DocType)
	}
	slices.Sort(r.types)

	endpoints := make([]string, 0, len(byEndpoint))
	for ep := range byEndpoint {
		endpoints = append(endpoints, ep)
	}
	slices.Sort(endpoints)
	for _, ep := range endpoints {
		types := byEndpoint[ep]
		if len(types) < 2 {
			continue
		}
		slices.Sort(types)
		r.shared[ep] = types
		if strict {
			return nil, fmt.Errorf("document types %v share endpoint %s", types, ep)
		}
		logger.Warn("Multiple document types resolve to the same endpoint.", "endpoint", ep, "docTypes", types)
	}

	return r, nil
}

// Resolve returns the descriptor for docType.
func (r *Registry) Resolve(docType models.DocumentType) (EndpointDescriptor, error) {
	d, ok := r.byType[docType]
	if !ok {
		return EndpointDescriptor{}, &UnsupportedDocumentTypeError{Requested: docType, Valid: r.DocumentTypes()}
	}
	return d, nil
}

// DocumentTypes lists registered types in sorted order.
func (r *Registry) DocumentTypes() []models.DocumentType {
	return slices.Clone(r.types)
}

// SharedEndpoints returns endpoints used by more than one document type.
func (r *Registry) SharedEndpoints() map[string][]models.DocumentType {
	out := make(map[string][]models.DocumentType, len(r.shared))
	for ep, types := range r.shared {
		out[ep] = slices.Clone(types)
	}
	return out
}

// ProcessorConfig names the Document AI processors backing each document type.
type ProcessorConfig struct {
	ProjectID string
	Location  string
	// BaseURL overrides https://{location}-documentai.googleapis.com.
	BaseURL    string
	Processors map[models.DocumentType]string
}

// ProcessURL builds the :process endpoint for a processor ID.
func (c ProcessorConfig) ProcessURL(processorID string) string {
	base := c.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-documentai.googleapis.com", c.Location)
	}
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/processors/%s:process",
		strings.TrimRight(base, "/"), c.ProjectID, c.Location, processorID)
}

// DefaultDescriptors builds descriptors for every configured processor.
// Types without a processor ID are left out and resolve as unsupported.
func DefaultDescriptors(cfg ProcessorConfig) []EndpointDescriptor {
	var out []EndpointDescriptor
	for _, dt := range models.AllDocumentTypes {
		id := cfg.Processors[dt]
		if id == "" {
			continue
		}
		d := EndpointDescriptor{DocType: dt, Endpoint: cfg.ProcessURL(id), ExpectedMIME: "image/*"}
		if dt == models.TaxRecord || dt == models.Credential {
			d.ExpectedMIME = mimePDF
			d.RasterizePDF = true
			d.NormalizedMIME = mimePNG
		}
		out = append(out, d)
	}
	return out
}
