package pdf

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
	"github.com/spherical/manual-processor/internal/domain"
)

// baseDPI is the PDF user-space resolution; a render scale of 1.0 maps to it.
const baseDPI = 72.0

// Rasterizer implements page rendering using go-fitz (MuPDF).
// It keeps no document open between calls.
type Rasterizer struct{}

// NewRasterizer creates a new rasterizer instance
func NewRasterizer() *Rasterizer {
	return &Rasterizer{}
}

// Render rasterizes a single 0-based page at scale x 72 DPI
func (r *Rasterizer) Render(ctx context.Context, pdfPath string, pageIndex int, scale float64) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, domain.ValidationError(fmt.Sprintf("render scale must be positive, got %v", scale), nil)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return nil, domain.ValidationError(fmt.Sprintf("page %d out of range (document has %d pages)", pageIndex+1, doc.NumPage()), nil)
	}

	img, err := doc.ImageDPI(pageIndex, baseDPI*scale)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("Failed to render page %d", pageIndex+1), err)
	}

	return img, nil
}
