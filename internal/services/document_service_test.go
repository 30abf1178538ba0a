package services

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"testing"

	"github.com/Lllllllleong/documentextraction/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	calls    int
	mimeType string
	data     []byte
	tempSeen bool
	fields   models.FieldMap
	err      error
}

func (f *fakeExtractor) Extract(_ context.Context, src Source, mimeType string, _ models.DocumentType) (models.FieldMap, error) {
	f.calls++
	f.mimeType = mimeType
	if p, ok := src.(PathSource); ok {
		_, statErr := os.Stat(p.Path)
		f.tempSeen = statErr == nil
	}
	data, err := ReadSource(src)
	if err != nil {
		return nil, err
	}
	f.data = data
	return f.fields, f.err
}

func newTestService(t *testing.T, extractor Extractor, pages int, countErr error) (*DocumentService, string) {
	t.Helper()
	reg, err := NewRegistry(nil, true, DefaultDescriptors(testProcessorConfig())...)
	require.NoError(t, err)

	sizes := make([]image.Point, pages)
	for i := range sizes {
		sizes[i] = image.Point{X: 20, Y: 10}
	}
	svc := NewDocumentService(reg, extractor, NewRasterizer(&fakeRenderer{sizes: sizes}, nil), 72, nil)
	svc.countPages = func(io.ReadSeeker) (int, error) { return pages, countErr }
	svc.tempRoot = t.TempDir()
	return svc, svc.tempRoot
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files must not outlive the call")
}

func TestDocumentService_ImagePassthrough(t *testing.T) {
	ext := &fakeExtractor{fields: models.FieldMap{"NAME": "JOHN"}}
	svc, _ := newTestService(t, ext, 0, nil)

	res, err := svc.Process(context.Background(), models.RawDocument{
		Content: []byte("jpeg-bytes"), MIMEType: "image/jpeg", DocType: models.Passport,
	})
	require.NoError(t, err)
	assert.Equal(t, models.FieldMap{"NAME": "JOHN"}, res.Fields)
	assert.Equal(t, models.Passport, res.DocumentType)
	assert.Equal(t, 1, res.PageCount)
	assert.False(t, res.Normalized)
	assert.Equal(t, "image/jpeg", ext.mimeType)
	assert.Equal(t, []byte("jpeg-bytes"), ext.data)
}

func TestDocumentService_SinglePagePDFSentAsIs(t *testing.T) {
	ext := &fakeExtractor{fields: models.FieldMap{"RFC": "XAXX010101000"}}
	svc, tmp := newTestService(t, ext, 1, nil)

	res, err := svc.Process(context.Background(), models.RawDocument{
		Content: []byte("%PDF-1.7"), MIMEType: "application/pdf", DocType: models.TaxRecord,
	})
	require.NoError(t, err)
	assert.False(t, res.Normalized)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, "application/pdf", ext.mimeType)
	assert.Equal(t, []byte("%PDF-1.7"), ext.data)
	assertDirEmpty(t, tmp)
}

func TestDocumentService_MultiPagePDFRasterized(t *testing.T) {
	ext := &fakeExtractor{fields: models.FieldMap{"CURP": "X"}}
	svc, tmp := newTestService(t, ext, 3, nil)

	res, err := svc.Process(context.Background(), models.RawDocument{
		Content: []byte("%PDF-1.7"), MIMEType: "application/pdf", DocType: models.Credential, Filename: "cedula.pdf",
	})
	require.NoError(t, err)
	assert.True(t, res.Normalized)
	assert.Equal(t, 3, res.PageCount)
	assert.Equal(t, "image/png", ext.mimeType)
	assert.True(t, ext.tempSeen, "composite exists while the request is in flight")
	assert.Equal(t, []byte("\x89PNG"), ext.data[:4])
	assertDirEmpty(t, tmp)
}

func TestDocumentService_TempFilesRemovedOnRemoteError(t *testing.T) {
	ext := &fakeExtractor{err: &RemoteServiceError{StatusCode: 429, Body: "quota"}}
	svc, tmp := newTestService(t, ext, 2, nil)

	_, err := svc.Process(context.Background(), models.RawDocument{
		Content: []byte("%PDF-1.7"), MIMEType: "application/pdf", DocType: models.TaxRecord,
	})
	var remote *RemoteServiceError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 429, remote.StatusCode)
	assert.Equal(t, 1, ext.calls)
	assertDirEmpty(t, tmp)
}

func TestDocumentService_RejectsBeforeExtraction(t *testing.T) {
	tests := []struct {
		name     string
		doc      models.RawDocument
		pages    int
		countErr error
		check    func(t *testing.T, err error)
	}{
		{
			name: "unsupported type",
			doc:  models.RawDocument{MIMEType: "application/pdf", DocType: "invoice"},
			check: func(t *testing.T, err error) {
				var e *UnsupportedDocumentTypeError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name: "image sent to pdf type",
			doc:  models.RawDocument{MIMEType: "image/jpeg", DocType: models.TaxRecord},
			check: func(t *testing.T, err error) {
				var e *MIMEMismatchError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name: "pdf sent to image type",
			doc:  models.RawDocument{MIMEType: "application/pdf", DocType: models.Passport},
			check: func(t *testing.T, err error) {
				var e *MIMEMismatchError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name:     "corrupt pdf",
			doc:      models.RawDocument{MIMEType: "application/pdf", DocType: models.Credential},
			countErr: errors.New("xref table not found"),
			check: func(t *testing.T, err error) {
				var e *DocumentOpenError
				assert.ErrorAs(t, err, &e)
			},
		},
		{
			name:  "pdf without pages",
			doc:   models.RawDocument{MIMEType: "application/pdf", DocType: models.Credential},
			pages: 0,
			check: func(t *testing.T, err error) {
				var e *RasterWriteError
				assert.ErrorAs(t, err, &e)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := &fakeExtractor{}
			svc, tmp := newTestService(t, ext, tt.pages, tt.countErr)

			_, err := svc.Process(context.Background(), tt.doc)
			require.Error(t, err)
			tt.check(t, err)
			assert.Zero(t, ext.calls)
			assertDirEmpty(t, tmp)
		})
	}
}

func TestDocumentService_RasterizationFailure(t *testing.T) {
	reg, err := NewRegistry(nil, true, DefaultDescriptors(testProcessorConfig())...)
	require.NoError(t, err)
	ext := &fakeExtractor{}
	renderer := &fakeRenderer{sizes: []image.Point{{10, 10}, {10, 10}}, renderErr: errors.New("bad page")}
	svc := NewDocumentService(reg, ext, NewRasterizer(renderer, nil), 72, nil)
	svc.countPages = func(io.ReadSeeker) (int, error) { return 2, nil }
	svc.tempRoot = t.TempDir()

	_, err = svc.Process(context.Background(), models.RawDocument{
		Content: []byte("%PDF-1.7"), MIMEType: "application/pdf", DocType: models.TaxRecord,
	})
	var writeErr *RasterWriteError
	assert.ErrorAs(t, err, &writeErr)
	assert.Zero(t, ext.calls)
	assertDirEmpty(t, svc.tempRoot)
}

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadExtractorConfig(t *testing.T) {
	t.Run("requires project", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "")
		_, err := LoadExtractorConfig()
		assert.ErrorContains(t, err, "PROJECT_ID")
	})

	t.Run("requires a processor", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "p")
		for _, k := range []string{"PASSPORT_PROCESSOR_ID", "MIGRATORY_FORM_PROCESSOR_ID", "TAX_RECORD_PROCESSOR_ID", "CREDENTIAL_PROCESSOR_ID", "ID_CARD_PROCESSOR_ID"} {
			t.Setenv(k, "")
		}
		_, err := LoadExtractorConfig()
		assert.ErrorContains(t, err, "PROCESSOR_ID")
	})

	t.Run("defaults", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "p")
		t.Setenv("PASSPORT_PROCESSOR_ID", "abc")
		unsetenv(t, "DOCAI_LOCATION")
		t.Setenv("RASTER_DPI", "")
		t.Setenv("REQUEST_TIMEOUT", "")
		t.Setenv("MAX_UPLOAD_BYTES", "")
		t.Setenv("STRICT_REGISTRY", "true")

		cfg, err := LoadExtractorConfig()
		require.NoError(t, err)
		assert.Equal(t, "us", cfg.Processors.Location)
		assert.Equal(t, float64(DefaultDPI), cfg.DPI)
		assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
		assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
		assert.True(t, cfg.StrictRegistry)
		assert.Equal(t, "abc", cfg.Processors.Processors[models.Passport])
	})
}
