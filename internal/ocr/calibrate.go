package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/spherical/manual-processor/internal/domain"
)

const (
	referenceWidth  = 1000
	referenceHeight = 1400

	// minOverlap is the intersection over union a reported box needs to match
	minOverlap = 0.5
)

// referenceFigure is the pixel rectangle of the only figure on the reference page
var referenceFigure = image.Rect(200, 300, 800, 900)

var (
	// ErrCalibrationInconclusive means the engine reported no figure on the reference page.
	ErrCalibrationInconclusive = errors.New("reference figure not reported")

	// ErrCalibrationMismatch means the reported figure does not land on the drawn one.
	ErrCalibrationMismatch = errors.New("reported coordinates do not match model space")
)

// ReferencePage draws a portrait page holding a single hatched figure and
// returns it with the figure's pixel rectangle.
func ReferencePage() (image.Image, image.Rectangle) {
	page := image.NewRGBA(image.Rect(0, 0, referenceWidth, referenceHeight))
	draw.Draw(page, page.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(page, referenceFigure, image.Black, image.Point{}, draw.Src)

	inner := referenceFigure.Inset(20)
	hatch := &image.Uniform{C: color.Gray{Y: 160}}
	for y := inner.Min.Y; y < inner.Max.Y; y += 40 {
		band := image.Rect(inner.Min.X, y, inner.Max.X, y+20).Intersect(inner)
		draw.Draw(page, band, hatch, image.Point{}, draw.Src)
	}
	return page, referenceFigure
}

// Calibrate runs the reference page through the vision engine and checks the
// reported figure against the drawn one. The page is not square, so a wrong
// model size shows up as a shifted or out-of-space box. On a mismatch figure
// cropping is disabled for the life of the extractor; page text is unaffected.
func (e *Extractor) Calibrate(ctx context.Context) error {
	page, want := ReferencePage()
	data, err := EncodePNG(page)
	if err != nil {
		return domain.ConversionError("encode reference page", err)
	}

	raw, err := e.engine.Generate(ctx, e.prompt, data)
	if err != nil {
		return fmt.Errorf("calibration inference: %w", err)
	}

	visuals := VisualElements(ParseGrounding(raw).Elements)
	if len(visuals) == 0 {
		return ErrCalibrationInconclusive
	}

	best := 0.0
	for _, v := range visuals {
		if !e.space.Contains(v.Box) {
			continue
		}
		got := e.space.ToPixels(v.Box, referenceWidth, referenceHeight).Rect()
		if o := overlap(got, want); o > best {
			best = o
		}
	}
	if best < minOverlap {
		e.cropsDisabled.Store(true)
		return domain.ExtractionError(
			fmt.Sprintf("reference figure reported at %+v, expected pixels %v with model size %g", visuals[0].Box, want, e.space.Size),
			ErrCalibrationMismatch)
	}
	return nil
}

// calibrateOnce runs Calibrate before the first page and logs the outcome
func (e *Extractor) calibrateOnce(ctx context.Context) {
	e.calibration.Do(func() {
		err := e.Calibrate(ctx)
		switch {
		case err == nil:
			e.logger.Info().Float64("model_size", e.space.Size).Msg("Vision engine coordinates verified")
		case errors.Is(err, ErrCalibrationMismatch):
			e.logger.Error().Err(err).Msg("Vision engine coordinates do not match model size, figure cropping disabled")
		default:
			e.logger.Warn().Err(err).Msg("Coordinate calibration inconclusive, figure crops are unverified")
		}
	})
}

// overlap returns the intersection over union of two rectangles
func overlap(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	area := func(r image.Rectangle) float64 { return float64(r.Dx()) * float64(r.Dy()) }
	return area(inter) / (area(a) + area(b) - area(inter))
}
