package domain

import (
	"context"
	"image"
)

// Rasterizer renders PDF pages to images
type Rasterizer interface {
	// Render rasterizes a single 0-based page at the given scale (1.0 = 72 DPI)
	Render(ctx context.Context, pdfPath string, pageIndex int, scale float64) (image.Image, error)
}

// TextSampler returns the natively extractable text of a page without OCR.
// Implementations never fail: unreadable pages yield an empty string.
type TextSampler interface {
	SampleText(ctx context.Context, pdfPath string, pageIndex int) string
}

// InferenceEngine turns a prompt and an optional PNG image into generated text
type InferenceEngine interface {
	Generate(ctx context.Context, prompt string, image []byte) (string, error)
}

// LanguageClassifier identifies the language of a text sample.
// Returns an ISO 639-1 code, or LanguageUnknown.
type LanguageClassifier interface {
	Identify(text string) string
}
