package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/language"
	"github.com/spherical/manual-processor/internal/observability"
	"github.com/spherical/manual-processor/internal/reference"
	"github.com/spherical/manual-processor/internal/translate"
)

// errCancelled marks a run stopped by a user cancellation
var errCancelled = errors.New("processing cancelled by user")

// detectionSampleSize caps the text handed to the classifier after OCR
const detectionSampleSize = 4000

// SectionDetector picks the page range to process
type SectionDetector interface {
	Detect(ctx context.Context, pdfPath string) (language.Selection, error)
}

// PageExtractor runs OCR on a single page
type PageExtractor interface {
	ExtractPage(ctx context.Context, pdfPath string, pageIndex int, imagesDir string) domain.PageResult
}

// TextTranslator translates extracted markdown to English
type TextTranslator interface {
	DetectLanguage(text string) string
	Translate(ctx context.Context, text, sourceLang string) (translate.Result, error)
	CleanPass(ctx context.Context, text string) (translate.Result, error)
}

// Pipeline wires the processing stages of a job
type Pipeline struct {
	Detector   SectionDetector
	Extractor  PageExtractor
	Translator TextTranslator
	CleanPass  bool
	Now        func() time.Time
}

// run executes every stage for j. It returns errCancelled when a
// cancellation was observed at a boundary.
func (p *Pipeline) run(ctx context.Context, j *job, stage func(Stage), logger *observability.Logger) (*Result, error) {
	boundary := func() error {
		if j.cancelled() {
			return errCancelled
		}
		return ctx.Err()
	}

	stage(StageLanguageScan)
	j.info("Scanning PDF for language sections...")

	sel, err := p.Detector.Detect(ctx, j.pdfPath)
	if err != nil {
		return nil, err
	}
	if err := boundary(); err != nil {
		return nil, err
	}

	switch {
	case sel.Override:
		j.info("Using configured page range %d-%d", sel.StartPage+1, sel.EndPage+1)
	case sel.FullDocument:
		j.info("No clear language sections detected, will extract all pages")
	default:
		j.ok("Found %s section (pages %d-%d)", language.DisplayName(sel.Language), sel.StartPage+1, sel.EndPage+1)
		j.info("Will extract %d pages instead of entire PDF", sel.PageCount())
	}

	stage(StageOCRExtraction)
	j.info("Starting OCR extraction...")

	imagesDir := filepath.Join(j.dir, reference.ImagesDir)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, domain.IOError("create images directory", err)
	}
	total := sel.PageCount()
	pages := make([]domain.PageResult, 0, total)
	failed := 0

	for i := 0; i < total; i++ {
		if err := boundary(); err != nil {
			return nil, err
		}

		pageIndex := sel.StartPage + i
		res := p.Extractor.ExtractPage(ctx, j.pdfPath, pageIndex, imagesDir)
		if res.Failed {
			failed++
			j.warn("Page %d/%d (PDF page %d) OCR failed, left empty: %v", i+1, total, pageIndex+1, res.Err)
		} else {
			j.ok("Page %d/%d processed", i+1, total)
		}
		pages = append(pages, res)
	}
	if err := boundary(); err != nil {
		return nil, err
	}

	stage(StageOCRComplete)
	j.ok("Extracted %d pages", len(pages))
	if failed > 0 {
		j.warn("%d of %d pages could not be read and were left empty", failed, len(pages))
	}

	detected := sel.Language
	if detected == "" || detected == domain.LanguageUnknown {
		stage(StageLanguageDetection)
		j.info("Detecting language from extracted content...")
		detected = p.Translator.DetectLanguage(detectionSample(pages))
		j.ok("Detected language: %s", language.DisplayName(detected))
	} else {
		j.info("Using pre-scanned language: %s", language.DisplayName(detected))
	}
	if err := boundary(); err != nil {
		return nil, err
	}

	translated := !language.IsEnglish(detected)
	if translated {
		stage(StageTranslating)
		j.info("Translating from %s to English...", language.DisplayName(detected))
		if err := p.translatePages(ctx, j, pages, detected, boundary); err != nil {
			return nil, err
		}
	} else {
		stage(StageGeneratingReference)
		j.info("Text already in English, generating reference markdown...")
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	doc, err := reference.Assemble(reference.AssembleInput{
		SourceName: j.filename,
		Pages:      pages,
		Translated: translated,
		Generated:  now(),
	})
	if err != nil {
		return nil, err
	}
	if _, err := reference.Write(doc, j.dir); err != nil {
		return nil, err
	}

	if missing, err := reference.VerifyImageLinks(doc.Markdown, j.dir); err != nil {
		logger.Warn().Err(err).Msg("Could not verify image links")
	} else if len(missing) > 0 {
		j.warn("%d figure links point to missing images", len(missing))
		logger.Warn().Strs("missing", missing).Msg("Reference links missing images")
	}

	if err := boundary(); err != nil {
		return nil, err
	}
	j.ok("Reference markdown generated")

	return &Result{
		DetectedLanguage: detected,
		Translated:       translated,
		OutputFilename:   doc.FileName,
	}, nil
}

// translatePages translates page texts in place. Chunk failures keep the
// original text and are reported in the job log.
func (p *Pipeline) translatePages(ctx context.Context, j *job, pages []domain.PageResult, source string, boundary func() error) error {
	for i := range pages {
		if err := boundary(); err != nil {
			return err
		}
		if strings.TrimSpace(pages[i].Text) == "" {
			continue
		}

		res, err := p.Translator.Translate(ctx, pages[i].Text, source)
		if err != nil {
			return err
		}
		for _, c := range res.FailedChunks {
			j.warn("Translation of PDF page %d chunk %d/%d failed during translating, kept original text",
				pages[i].PageNumber(), c, res.Chunks)
		}
		pages[i].Text = res.Text

		if !p.CleanPass {
			continue
		}
		cleaned, err := p.Translator.CleanPass(ctx, pages[i].Text)
		if err != nil {
			return err
		}
		for _, c := range cleaned.FailedChunks {
			j.warn("Re-translation of PDF page %d paragraph %d failed during clean pass, kept text", pages[i].PageNumber(), c)
		}
		pages[i].Text = cleaned.Text
	}
	return nil
}

// detectionSample joins page texts up to detectionSampleSize bytes
func detectionSample(pages []domain.PageResult) string {
	var b strings.Builder
	for _, p := range pages {
		if b.Len() >= detectionSampleSize {
			break
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
