package models

// These structs define the JSON payloads exchanged with the Document AI
// process endpoint and with callers of the extraction functions.

// ProcessRequest is the envelope POSTed to a processor's :process endpoint.
type ProcessRequest struct {
	RawDocument InlineDocument `json:"rawDocument"`
}

// InlineDocument carries the base64 content of the document being processed.
type InlineDocument struct {
	MimeType string `json:"mimeType"`
	Content  string `json:"content"`
}

// ProcessResponse is the subset of the processor response we read.
// Document is a pointer so a missing "document" key can be told apart from an empty one.
type ProcessResponse struct {
	Document *ProcessedDocument `json:"document"`
}

// ProcessedDocument holds the entity tree. Text, pages and layout are not decoded.
type ProcessedDocument struct {
	Entities []Entity `json:"entities"`
}

// Entity is one node of the extraction tree. MentionText is nil when the
// processor did not report a value, e.g. for purely structural parents.
type Entity struct {
	Type        string   `json:"type"`
	MentionText *string  `json:"mentionText,omitempty"`
	Properties  []Entity `json:"properties,omitempty"`
}

// ErrorResponse is the JSON body returned to callers on failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}
