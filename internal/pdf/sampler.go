package pdf

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
	lpdf "github.com/ledongthuc/pdf"
	"github.com/spherical/manual-processor/internal/observability"
)

// TextSampler reads the native text layer of a page without OCR.
// MuPDF is tried first; the pure-Go reader covers files MuPDF rejects.
type TextSampler struct {
	logger *observability.Logger
}

// NewTextSampler creates a new text sampler
func NewTextSampler(logger *observability.Logger) *TextSampler {
	return &TextSampler{logger: logger.WithOperation("text_sample")}
}

// SampleText returns the page's native text, or "" when none can be read.
func (s *TextSampler) SampleText(ctx context.Context, pdfPath string, pageIndex int) string {
	if ctx.Err() != nil {
		return ""
	}

	text, err := fitzText(pdfPath, pageIndex)
	if err == nil {
		return text
	}
	s.logger.Debug().Err(err).Int("page", pageIndex+1).Msg("MuPDF text extraction failed, trying fallback reader")

	text, err = plainText(pdfPath, pageIndex)
	if err != nil {
		s.logger.Debug().Err(err).Int("page", pageIndex+1).Msg("No native text available")
		return ""
	}
	return text
}

func fitzText(pdfPath string, pageIndex int) (string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return "", fmt.Errorf("page %d out of range", pageIndex+1)
	}
	return doc.Text(pageIndex)
}

// plainText uses ledongthuc/pdf, which may panic on damaged cross-reference tables.
func plainText(pdfPath string, pageIndex int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	f, r, err := lpdf.Open(pdfPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if pageIndex < 0 || pageIndex >= r.NumPage() {
		return "", fmt.Errorf("page %d out of range", pageIndex+1)
	}

	page := r.Page(pageIndex + 1)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d has no content", pageIndex+1)
	}
	return page.GetPlainText(nil)
}
