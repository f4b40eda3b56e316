// Package translate converts extracted manual markdown to English with a
// text inference engine.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical/manual-processor/internal/domain"
	"github.com/spherical/manual-processor/internal/language"
	"github.com/spherical/manual-processor/internal/observability"
)

const (
	DefaultChunkSize   = 4000
	DefaultTargetLabel = "English"
)

const instructions = "Translate ALL content, including table headers, table cells, and labels. " +
	"Do not leave any words or phrases in the original language. " +
	"Preserve markdown formatting. Respond with ONLY the translated markdown, " +
	"with no explanations or commentary."

// Config holds translator settings
type Config struct {
	ChunkSize   int
	Retries     int
	TargetLabel string
}

// Result is the outcome of a translation run. FailedChunks holds 1-based
// indexes of chunks that were passed through untranslated.
type Result struct {
	Text         string
	Chunks       int
	FailedChunks []int
}

// Translator translates markdown chunk by chunk
type Translator struct {
	engine     domain.InferenceEngine
	classifier domain.LanguageClassifier
	chunkSize  int
	retries    int
	target     string
	logger     *observability.Logger
}

// New creates a translator
func New(engine domain.InferenceEngine, classifier domain.LanguageClassifier, cfg Config, logger *observability.Logger) *Translator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.TargetLabel == "" {
		cfg.TargetLabel = DefaultTargetLabel
	}

	return &Translator{
		engine:     engine,
		classifier: classifier,
		chunkSize:  cfg.ChunkSize,
		retries:    cfg.Retries,
		target:     cfg.TargetLabel,
		logger:     logger.WithOperation("translate"),
	}
}

// DetectLanguage identifies the language of text locally, without an engine
// call. It returns an ISO 639-1 code or domain.LanguageUnknown.
func (t *Translator) DetectLanguage(text string) string {
	return language.NormalizeCode(t.classifier.Identify(text))
}

// Translate translates text from sourceLang (a language code, or empty when
// unknown). A chunk that fails after its retries is kept untranslated. The
// only error returned is ctx's.
func (t *Translator) Translate(ctx context.Context, text, sourceLang string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text}, nil
	}

	chunks := SplitChunks(text, t.chunkSize)
	result := Result{Chunks: len(chunks)}
	out := make([]string, len(chunks))

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		translated, err := t.translateWithRetry(ctx, chunk, sourceLang)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			t.logger.Warn().
				Err(err).
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Msg("Chunk translation failed, keeping original text")
			result.FailedChunks = append(result.FailedChunks, i+1)
			out[i] = chunk
			continue
		}
		out[i] = translated
	}

	result.Text = strings.Join(out, "\n\n")
	return result, nil
}

// CleanPass removes leftover model chatter and hallucinated blocks from a
// translation, re-translating paragraphs that still look non-English.
// Result.Chunks counts re-translated paragraphs.
func (t *Translator) CleanPass(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{}, nil
	}

	paragraphs := strings.Split(StripPreambleAndFences(text), "\n\n")
	kept := make([]string, 0, len(paragraphs))
	var result Result

	for i, para := range paragraphs {
		if IsJunk(para) {
			t.logger.Debug().Int("paragraph", i+1).Msg("Dropping hallucinated block")
			continue
		}
		if !LooksNonEnglish(para) {
			kept = append(kept, para)
			continue
		}

		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		result.Chunks++
		translated, err := t.translateWithRetry(ctx, para, "")
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			t.logger.Warn().Err(err).Int("paragraph", i+1).Msg("Clean pass re-translation failed")
			result.FailedChunks = append(result.FailedChunks, i+1)
			kept = append(kept, para)
			continue
		}
		kept = append(kept, translated)
	}

	result.Text = strings.Join(kept, "\n\n")
	return result, nil
}

func (t *Translator) translateWithRetry(ctx context.Context, chunk, sourceLang string) (string, error) {
	prompt := t.prompt(chunk, sourceLang)

	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			t.logger.Debug().Int("attempt", attempt+1).Err(lastErr).Msg("Retrying chunk translation")
		}

		raw, err := t.engine.Generate(ctx, prompt, nil)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		cleaned := cleanResponse(raw)
		if cleaned == "" {
			lastErr = domain.ErrEmptyResponse
			continue
		}
		return cleaned, nil
	}

	return "", domain.TranslationError(fmt.Sprintf("translation failed after %d attempts", t.retries+1), lastErr)
}

func (t *Translator) prompt(text, sourceLang string) string {
	var head string
	if code := language.NormalizeCode(sourceLang); code != domain.LanguageUnknown {
		head = fmt.Sprintf("Translate this text from %s to %s. ", language.DisplayName(code), t.target)
	} else {
		head = fmt.Sprintf("Translate this text to %s. ", t.target)
	}
	return head + instructions + "\n\n" + text
}
