package ocr

import (
	"fmt"
	"math"

	"github.com/spherical/manual-processor/internal/domain"
)

// ModelSpace is the fixed square the vision engine resamples every page into.
// Boxes it reports are in this space regardless of the input aspect ratio.
type ModelSpace struct {
	Size float64
}

// NewModelSpace returns the model space for a resize target, e.g. 1000
func NewModelSpace(size int) (ModelSpace, error) {
	if size <= 0 {
		return ModelSpace{}, domain.ConfigError(fmt.Sprintf("model space size must be positive, got %d", size), nil)
	}
	return ModelSpace{Size: float64(size)}, nil
}

// Scale returns the per-axis factors mapping model space onto a width x height page
func (m ModelSpace) Scale(width, height int) (scaleX, scaleY float64) {
	return float64(width) / m.Size, float64(height) / m.Size
}

// Contains reports whether a box lies inside the model space
func (m ModelSpace) Contains(b domain.BoundingBox) bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= m.Size && b.Y2 <= m.Size
}

// ToPixels maps a model-space box onto a rendered page of width x height pixels.
// Both axes scale independently; the result is clamped to the page.
func (m ModelSpace) ToPixels(b domain.BoundingBox, width, height int) domain.BoundingBox {
	sx, sy := m.Scale(width, height)
	w, h := float64(width), float64(height)

	return domain.BoundingBox{
		X1: clamp(b.X1*sx, 0, w),
		Y1: clamp(b.Y1*sy, 0, h),
		X2: clamp(b.X2*sx, 0, w),
		Y2: clamp(b.Y2*sy, 0, h),
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
