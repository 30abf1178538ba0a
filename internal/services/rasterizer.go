package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDPI is the render resolution used when none is given.
	DefaultDPI = 150
	// MaxConcurrentPages bounds how many pages render at once.
	MaxConcurrentPages = 4

	jpegQuality = 90
)

// RenderedDocument is an opened PDF that can render its pages.
type RenderedDocument interface {
	NumPage() int
	RenderPage(page int, dpi float64) (image.Image, error)
	Close() error
}

// PageRenderer opens PDFs for rendering. Tests stub it with synthetic pages.
type PageRenderer interface {
	Open(path string) (RenderedDocument, error)
}

// CompositeInfo describes a written composite image.
type CompositeInfo struct {
	Width     int
	Height    int
	PageCount int
	// Offsets[i] is the Y offset of page i on the canvas.
	Offsets []int
}

// Rasterizer turns a multi-page PDF into one vertically stacked image.
type Rasterizer struct {
	renderer PageRenderer
	logger   *slog.Logger
}

// NewRasterizer creates a Rasterizer. A nil renderer selects the MuPDF backend.
func NewRasterizer(renderer PageRenderer, logger *slog.Logger) *Rasterizer {
	if renderer == nil {
		renderer = FitzRenderer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{renderer: renderer, logger: logger}
}

// RasterizeToSingleImage renders every page of pdfPath at dpi and writes them,
// top to bottom in page order, to outputPath. The input file is left in place.
func (r *Rasterizer) RasterizeToSingleImage(ctx context.Context, pdfPath, outputPath string, dpi float64) (*CompositeInfo, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	logCtx := r.logger.With("pdfPath", pdfPath, "dpi", dpi)

	if _, err := os.Stat(pdfPath); err != nil {
		return nil, &DocumentOpenError{Path: pdfPath, Err: err}
	}
	doc, err := r.renderer.Open(pdfPath)
	if err != nil {
		var openErr *DocumentOpenError
		if errors.As(err, &openErr) {
			return nil, err
		}
		return nil, &DocumentOpenError{Path: pdfPath, Err: err}
	}
	defer func() {
		if err := doc.Close(); err != nil {
			logCtx.Warn("Failed to close PDF document.", "error", err)
		}
	}()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, &RasterWriteError{Path: outputPath, Err: errors.New("PDF has no pages")}
	}

	pages := make([]image.Image, pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(MaxConcurrentPages)
	for i := 0; i < pageCount; i++ {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := doc.RenderPage(i, dpi)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			pages[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, &RasterWriteError{Path: outputPath, Err: fmt.Errorf("failed to render pages: %w", err)}
	}

	canvas, offsets := ComposePages(pages)
	if canvas.Bounds().Empty() {
		return nil, &RasterWriteError{Path: outputPath, Err: errors.New("composite image is empty")}
	}
	if err := writeImage(outputPath, canvas); err != nil {
		return nil, &RasterWriteError{Path: outputPath, Err: err}
	}

	info := &CompositeInfo{
		Width:     canvas.Bounds().Dx(),
		Height:    canvas.Bounds().Dy(),
		PageCount: pageCount,
		Offsets:   offsets,
	}
	logCtx.Info("PDF rasterized to single image.", "pageCount", pageCount, "width", info.Width, "height", info.Height)
	return info, nil
}

// ComposePages stacks pages vertically on a white canvas as wide as the widest
// page and as tall as all pages together. Pages are left-aligned and unscaled.
// It returns the canvas and the Y offset of each page.
func ComposePages(pages []image.Image) (*image.RGBA, []int) {
	width, height := 0, 0
	for _, p := range pages {
		b := p.Bounds()
		width = max(width, b.Dx())
		height += b.Dy()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	offsets := make([]int, len(pages))
	y := 0
	for i, p := range pages {
		b := p.Bounds()
		offsets[i] = y
		dst := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Draw(canvas, dst, p, b.Min, draw.Over)
		y += b.Dy()
	}
	return canvas, offsets
}

// writeImage encodes img as JPEG for .jpg/.jpeg paths and PNG otherwise.
// A partially written file is removed on failure.
func writeImage(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(f, img)
	}
	if err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// FitzRenderer renders pages with MuPDF after a relaxed pdfcpu validation pass.
type FitzRenderer struct{}

// Open validates the PDF structure and opens it for rendering.
func (FitzRenderer) Open(path string) (RenderedDocument, error) {
	if err := validatePDF(path); err != nil {
		return nil, &DocumentOpenError{Path: path, Err: err}
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, &DocumentOpenError{Path: path, Err: err}
	}
	return fitzDocument{doc: doc}, nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d fitzDocument) NumPage() int { return d.doc.NumPage() }

// RenderPage renders at dpi/72 zoom. go-fitz serializes calls on one document internally.
func (d fitzDocument) RenderPage(page int, dpi float64) (image.Image, error) {
	return d.doc.ImageDPI(page, dpi)
}

func (d fitzDocument) Close() error { return d.doc.Close() }

func relaxedPDFConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

func validatePDF(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return api.ValidateFile(path, relaxedPDFConfig())
}
