package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/observability"
)

// DefaultPrompt asks the vision model for markdown with grounding tags
const DefaultPrompt = "<|grounding|>Convert the document to markdown."

// Config holds page extraction settings
type Config struct {
	RenderScale float64
	ModelSize   int
	Prompt      string

	// Calibrate checks the engine's coordinates on a reference page before the first extraction
	Calibrate bool
}

// Extractor runs OCR on single pages and crops their figures.
// It holds no per-document state.
type Extractor struct {
	rasterizer domain.Rasterizer
	engine     domain.InferenceEngine
	space      ModelSpace
	scale      float64
	prompt     string
	logger     *observability.Logger

	calibrate     bool
	calibration   sync.Once
	cropsDisabled atomic.Bool
}

// NewExtractor creates a page extractor
func NewExtractor(rasterizer domain.Rasterizer, engine domain.InferenceEngine, cfg Config, logger *observability.Logger) (*Extractor, error) {
	space, err := NewModelSpace(cfg.ModelSize)
	if err != nil {
		return nil, err
	}
	if cfg.RenderScale <= 0 {
		cfg.RenderScale = 2.0
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = DefaultPrompt
	}

	return &Extractor{
		rasterizer: rasterizer,
		engine:     engine,
		space:      space,
		scale:      cfg.RenderScale,
		prompt:     cfg.Prompt,
		logger:     logger.WithOperation("ocr"),
		calibrate:  cfg.Calibrate,
	}, nil
}

// ExtractPage renders, transcribes and crops one page. It never returns an
// error: failures produce an empty PageResult with Failed set.
func (e *Extractor) ExtractPage(ctx context.Context, pdfPath string, pageIndex int, imagesDir string) domain.PageResult {
	if e.calibrate {
		e.calibrateOnce(ctx)
	}
	log := e.logger.With().Int("page", pageIndex+1).Logger()

	result, err := e.extract(ctx, pdfPath, pageIndex, imagesDir, log)
	if err != nil {
		log.Warn().Err(err).Msg("Page extraction failed")
		return domain.PageResult{PageIndex: pageIndex, Failed: true, Err: err}
	}
	return result
}

func (e *Extractor) extract(ctx context.Context, pdfPath string, pageIndex int, imagesDir string, log *observability.Logger) (domain.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.PageResult{}, err
	}

	page, err := e.rasterizer.Render(ctx, pdfPath, pageIndex, e.scale)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("render: %w", err)
	}

	if page.Bounds().Empty() {
		return domain.PageResult{}, domain.ExtractionError(fmt.Sprintf("page %d rendered empty", pageIndex+1), nil)
	}

	pngData, err := EncodePNG(page)
	if err != nil {
		return domain.PageResult{}, domain.ConversionError("encode page", err)
	}

	raw, err := e.engine.Generate(ctx, e.prompt, pngData)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("vision inference: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return domain.PageResult{}, domain.ExtractionError("vision inference", domain.ErrEmptyResponse)
	}

	grounding := ParseGrounding(raw)
	for _, w := range grounding.Warnings {
		log.Warn().Str("detail", w).Msg("Malformed grounding tag skipped")
	}

	files, err := e.cropVisuals(page, grounding.Elements, pageIndex, imagesDir, log)
	if err != nil {
		return domain.PageResult{}, err
	}

	log.Debug().
		Int("elements", len(grounding.Elements)).
		Int("images", len(files)).
		Msg("Page extracted")

	return domain.PageResult{
		PageIndex:  pageIndex,
		Text:       StripTags(raw),
		ImageFiles: files,
	}, nil
}

// cropVisuals saves image and figure regions top to bottom. Boxes outside the
// model space are dropped: they mean the engine's resize target is not what
// the transform assumes.
func (e *Extractor) cropVisuals(page image.Image, elements []domain.GroundedElement, pageIndex int, imagesDir string, log *observability.Logger) ([]string, error) {
	visuals := VisualElements(elements)
	if len(visuals) == 0 {
		return nil, nil
	}
	if e.cropsDisabled.Load() {
		log.Warn().Int("figures", len(visuals)).Msg("Figure cropping disabled after failed calibration")
		return nil, nil
	}

	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, domain.IOError("create images directory", err)
	}

	width, height := page.Bounds().Dx(), page.Bounds().Dy()
	origin := page.Bounds().Min

	var files []string
	for i, el := range visuals {
		n := i + 1
		if !e.space.Contains(el.Box) {
			log.Warn().
				Str("type", string(el.Type)).
				Float64("x2", el.Box.X2).
				Float64("y2", el.Box.Y2).
				Float64("model_size", e.space.Size).
				Msg("Bounding box outside model space, check engine resize target")
			continue
		}

		rect := e.space.ToPixels(el.Box, width, height).Rect().Add(origin)
		crop, err := Crop(page, rect)
		if err != nil {
			log.Warn().Err(err).Int("image", n).Msg("Skipping figure")
			continue
		}

		name := ImageFileName(pageIndex, n)
		if err := SavePNG(crop, filepath.Join(imagesDir, name)); err != nil {
			return nil, domain.IOError(fmt.Sprintf("save %s", name), err)
		}
		files = append(files, name)
	}

	return files, nil
}
