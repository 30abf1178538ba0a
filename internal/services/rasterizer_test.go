package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer serves solid-colour pages of fixed sizes.
type fakeRenderer struct {
	sizes     []image.Point
	openErr   error
	renderErr error
	closed    atomic.Bool
	dpiSeen   atomic.Value
}

func (f *fakeRenderer) Open(string) (RenderedDocument, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f, nil
}

func (f *fakeRenderer) NumPage() int { return len(f.sizes) }

func (f *fakeRenderer) RenderPage(page int, dpi float64) (image.Image, error) {
	f.dpiSeen.Store(dpi)
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	s := f.sizes[page]
	img := image.NewRGBA(image.Rect(0, 0, s.X, s.Y))
	for y := 0; y < s.Y; y++ {
		for x := 0; x < s.X; x++ {
			img.Set(x, y, color.Black)
		}
	}
	return img, nil
}

func (f *fakeRenderer) Close() error {
	f.closed.Store(true)
	return nil
}

func writeDummyPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 stub"), 0o600))
	return path
}

func TestRasterizeToSingleImage(t *testing.T) {
	renderer := &fakeRenderer{sizes: []image.Point{{300, 100}, {250, 200}, {400, 150}}}
	r := NewRasterizer(renderer, nil)
	pdfPath := writeDummyPDF(t)
	out := filepath.Join(t.TempDir(), "composite.png")

	info, err := r.RasterizeToSingleImage(context.Background(), pdfPath, out, 0)
	require.NoError(t, err)

	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 450, info.Height)
	assert.Equal(t, 3, info.PageCount)
	assert.Equal(t, []int{0, 100, 300}, info.Offsets)
	assert.True(t, renderer.closed.Load())
	assert.Equal(t, float64(DefaultDPI), renderer.dpiSeen.Load())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 400, 450), img.Bounds())

	_, err = os.Stat(pdfPath)
	assert.NoError(t, err, "input PDF must be left in place")
}

func TestRasterizeToSingleImage_Errors(t *testing.T) {
	tests := []struct {
		name      string
		renderer  *fakeRenderer
		pdfPath   func(t *testing.T) string
		output    func(t *testing.T) string
		wantOpen  bool
		wantWrite bool
	}{
		{
			name:     "missing input",
			renderer: &fakeRenderer{sizes: []image.Point{{10, 10}}},
			pdfPath: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.pdf")
			},
			wantOpen: true,
		},
		{
			name:     "renderer cannot open",
			renderer: &fakeRenderer{openErr: errors.New("not a PDF")},
			wantOpen: true,
		},
		{
			name:      "no pages",
			renderer:  &fakeRenderer{},
			wantWrite: true,
		},
		{
			name:      "page render fails",
			renderer:  &fakeRenderer{sizes: []image.Point{{10, 10}, {10, 10}}, renderErr: errors.New("boom")},
			wantWrite: true,
		},
		{
			name:     "output directory missing",
			renderer: &fakeRenderer{sizes: []image.Point{{10, 10}}},
			output: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "no", "such", "dir", "out.png")
			},
			wantWrite: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdfPath := writeDummyPDF(t)
			if tt.pdfPath != nil {
				pdfPath = tt.pdfPath(t)
			}
			out := filepath.Join(t.TempDir(), "out.png")
			if tt.output != nil {
				out = tt.output(t)
			}

			_, err := NewRasterizer(tt.renderer, nil).RasterizeToSingleImage(context.Background(), pdfPath, out, 72)
			require.Error(t, err)

			var openErr *DocumentOpenError
			var writeErr *RasterWriteError
			assert.Equal(t, tt.wantOpen, errors.As(err, &openErr), "DocumentOpenError: %v", err)
			assert.Equal(t, tt.wantWrite, errors.As(err, &writeErr), "RasterWriteError: %v", err)

			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no output on failure")
		})
	}
}

// buildPDF writes a minimal PDF with one blank page per media box size, in points.
func buildPDF(t *testing.T, sizes ...image.Point) string {
	t.Helper()
	pageCount := len(sizes)
	contentObj := 3 + pageCount
	var buf bytes.Buffer
	offsets := make([]int, 0, contentObj)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pageCount)
	for i := range sizes {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount))
	for _, sz := range sizes {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << >> /Contents %d 0 R >>", sz.X, sz.Y, contentObj))
	}
	obj("<< /Length 3 >>\nstream\n0 g\nendstream")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	path := filepath.Join(t.TempDir(), "fixture.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestFitzRenderer_RendersMultiPagePDF(t *testing.T) {
	pdfPath := buildPDF(t, image.Pt(300, 100), image.Pt(250, 200), image.Pt(400, 150))
	out := filepath.Join(t.TempDir(), "composite.png")

	info, err := NewRasterizer(nil, nil).RasterizeToSingleImage(context.Background(), pdfPath, out, 72)
	require.NoError(t, err)
	assert.Equal(t, &CompositeInfo{Width: 400, Height: 450, PageCount: 3, Offsets: []int{0, 100, 300}}, info)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 450, cfg.Height)
}

func TestCountPDFPages(t *testing.T) {
	data, err := os.ReadFile(buildPDF(t, image.Pt(200, 200), image.Pt(200, 200)))
	require.NoError(t, err)

	n, err := countPDFPages(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = countPDFPages(bytes.NewReader([]byte("not a pdf")))
	assert.Error(t, err)
}

func TestFitzRenderer_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pdf")
	require.NoError(t, os.WriteFile(path, []byte("this is not a pdf"), 0o600))

	_, err := NewRasterizer(nil, nil).RasterizeToSingleImage(context.Background(), path, filepath.Join(t.TempDir(), "out.png"), 0)
	var openErr *DocumentOpenError
	assert.ErrorAs(t, err, &openErr)
}

func TestComposePages(t *testing.T) {
	narrow := image.NewRGBA(image.Rect(0, 0, 2, 1))
	narrow.Set(0, 0, color.Black)
	narrow.Set(1, 0, color.Black)
	wide := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			wide.Set(x, y, color.Black)
		}
	}

	canvas, offsets := ComposePages([]image.Image{narrow, wide})
	assert.Equal(t, image.Rect(0, 0, 4, 3), canvas.Bounds())
	assert.Equal(t, []int{0, 1}, offsets)

	black := color.RGBAModel.Convert(color.Black)
	white := color.RGBAModel.Convert(color.White)
	assert.Equal(t, black, canvas.At(1, 0))
	assert.Equal(t, white, canvas.At(2, 0), "right of a narrow page stays white")
	assert.Equal(t, white, canvas.At(3, 0))
	assert.Equal(t, black, canvas.At(3, 2))
}

func TestComposePages_Empty(t *testing.T) {
	canvas, offsets := ComposePages(nil)
	assert.True(t, canvas.Bounds().Empty())
	assert.Empty(t, offsets)
}
